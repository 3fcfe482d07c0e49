package llm

import "strings"

// Verdict is the model's ternary triage answer.
type Verdict string

const (
	VerdictAction Verdict = "ACTION"
	VerdictInfo   Verdict = "INFO"
	VerdictSpam   Verdict = "SPAM"
)

// ParseVerdict maps raw triage output by containment. ACTION is checked
// before SPAM because models repeat the category names; anything else,
// including no output, is INFO.
func ParseVerdict(text string, ok bool) Verdict {
	if !ok {
		return VerdictInfo
	}
	cleaned := strings.NewReplacer("*", "", ".", "").Replace(strings.ToUpper(strings.TrimSpace(text)))
	switch {
	case strings.Contains(cleaned, string(VerdictAction)):
		return VerdictAction
	case strings.Contains(cleaned, string(VerdictSpam)):
		return VerdictSpam
	}
	return VerdictInfo
}
