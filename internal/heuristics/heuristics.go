// Package heuristics holds the deterministic keyword rules that run before
// any model call. Nothing here touches the network.
package heuristics

import (
	"fmt"
	"regexp"
	"strings"

	"mailpilot/internal/model"
	"mailpilot/internal/textnorm"
)

// 阿拉伯语模式不使用 \b：RE2 的单词边界只识别 ASCII
var junkPatterns = compile(
	`out of office`,
	`automatic reply`,
	`delivery status notification`,
	`undeliverable`,
	`mailer-daemon`,
	`unsubscribe`,
	`privacy policy`,
	`view in browser`,
	`خارج المكتب`,
	`رد تلقائي`,
	`إشعار تسليم`,
	`غير قابل للتسليم`,
	`إلغاء الاشتراك`,
)

// 整封邮件只是一句确认
var ackOnly = regexp.MustCompile(`(?is)^(thank you|thanks|got it|received|ok)$`)

var highPriorityPatterns = compile(
	`\b(urgent|immediately|asap|critical|!|as soon as possible)\b`,
	`subject:.*(urgent|asap)`,
	`\b(deadline|due by)\b.*(today|eod)\b`,
	`at your earliest convenience`,
	`(عاجل|فوري|هام جدا|مطلوب الرد)`,
)

var (
	fyiPrefix     = regexp.MustCompile(`(?i)\[FYI\]`)
	approvePrefix = regexp.MustCompile(`(?i)\[APPROVE\]`)

	subjectApproval = regexp.MustCompile(`(?i)\b(approval|approve|permission|authorization|sign-off|review request|request for approval|please approve|annual leave|vacation|sick leave|time off)\b`)
	bodyApproval    = regexp.MustCompile(`(?i)(kindly for your approval|please approve|requires your approval|waiting for your approval|for your review and approval|approve this|sign off on)`)
)

const (
	bodyPhraseWindow = 1000
	bodyPrefixWindow = 1500
)

var (
	strongSubjectTriggers = []string{
		"approval", "approve", "permission", "authorization", "sign-off",
		"review request", "request for approval", "please approve", "action required",
	}
	leaveTriggers  = []string{"annual leave", "vacation", "time off", "sick leave", "wfh request"}
	phraseTriggers = []string{
		"kindly for your approval",
		"kindly provide your approval",
		"provide your approval",
		"please sign off",
		"requires your approval",
		"waiting for your approval",
		"for your review and approval",
		"approve this",
		"sign off on",
		"availability confirmation",
		"confirmation on the below",
	}
	itChangeTriggers = []string{"cr number", "change request", "crq", "downtime required", "production deployment", "cts activity"}
	itConfirmWords   = []string{"approval", "approve", "confirm"}
)

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(fmt.Sprintf("(?is)%s", p))
	}
	return out
}

func matchAny(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// IsJunk reports auto-replies, bounce notices, newsletters and bare
// acknowledgements. Junk never produces a record.
func IsJunk(sender, subject, body string) bool {
	content := strings.ToLower(sender + " " + subject + " " + body)
	if matchAny(junkPatterns, content) {
		return true
	}
	return ackOnly.MatchString(strings.TrimSpace(body))
}

// Priority 在 "Subject: ...\nBody: ..." 上匹配高优先级关键词
func Priority(subject, cleanedBody string) model.Priority {
	if matchAny(highPriorityPatterns, Content(subject, cleanedBody)) {
		return model.PriorityHigh
	}
	return model.PriorityMedium
}

// Content is the text handed to both the priority rules and the model.
func Content(subject, cleanedBody string) string {
	return "Subject: " + subject + "\nBody: " + cleanedBody
}

func HasFYIPrefix(subject string) bool {
	return fyiPrefix.MatchString(subject)
}

func HasApprovePrefix(subject string) bool {
	return approvePrefix.MatchString(subject)
}

// IsPotentialApproval is the standalone approval pre-filter: strong or
// leave-related subject words, approval phrases near the top of the body, or
// IT change wording that also asks for approval or confirmation.
func IsPotentialApproval(subject, body string) bool {
	subject = strings.ToLower(subject)
	if containsAny(subject, strongSubjectTriggers) || containsAny(subject, leaveTriggers) {
		return true
	}

	start := strings.ToLower(textnorm.Truncate(body, bodyPrefixWindow))
	if containsAny(start, phraseTriggers) {
		return true
	}
	return containsAny(start, itChangeTriggers) && containsAny(start, itConfirmWords)
}

// ApprovalOverride reports whether the message must be classified as an
// approval regardless of model output. Callers check HasFYIPrefix first.
func ApprovalOverride(subject, cleanedBody string) bool {
	switch {
	case HasApprovePrefix(subject):
		return true
	case subjectApproval.MatchString(subject):
		return true
	case bodyApproval.MatchString(textnorm.Truncate(cleanedBody, bodyPhraseWindow)):
		return true
	}
	return IsPotentialApproval(subject, cleanedBody)
}
