// Package textnorm 清理邮件正文并生成简短摘要片段
package textnorm

import (
	"regexp"
	"strings"
)

const (
	maxBodyLines    = 100
	snippetMinRunes = 30
	snippetMaxRunes = 250
	// NoContent 空正文对应的片段
	NoContent = "No content"
)

// 命中任一标记即视为进入引用链或签名区
var cutMarkers = []string{
	"-----Original Message-----",
	"From:",
	"Sent:",
	"To:",
	"Subject:",
	"________________________________",
	"Disclaimer:",
	"This message is intended",
}

// Gmail 引用头: "On Mon, Mar 2, 2026 at 9:00 AM Sara <s@x> wrote:"，可能被折成两行
var (
	attribution     = regexp.MustCompile(`^On\s.+\swrote:$`)
	attributionTail = regexp.MustCompile(`\swrote:$`)
)

var greetings = []string{"hi ", "dear ", "hello", "good morning", "good afternoon"}

// CleanBody drops the quoted reply chain and signature block, blank lines,
// ">" quoted lines and surrounding whitespace, keeping at most 100 lines.
func CleanBody(body string) string {
	if body == "" {
		return ""
	}
	body = strings.ReplaceAll(body, "\r\n", "\n")

	var kept []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if hasCutMarker(line) || attribution.MatchString(line) {
			break
		}
		if n := len(kept); n > 0 && attributionTail.MatchString(line) && strings.HasPrefix(kept[n-1], "On ") {
			kept = kept[:n-1]
			break
		}
		if line == "" || strings.HasPrefix(line, ">") {
			continue
		}
		kept = append(kept, line)
		if len(kept) == maxBodyLines {
			break
		}
	}
	return strings.Join(kept, "\n")
}

func hasCutMarker(line string) bool {
	for _, m := range cutMarkers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}

// Snippet returns the first substantive line of a cleaned body. Greeting-only
// lines and quoted lines are skipped; without a qualifying line the first
// three lines are joined.
func Snippet(cleaned string) string {
	var lines []string
	for _, l := range strings.Split(cleaned, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		return NoContent
	}

	for _, line := range lines {
		if runeLen(line) >= snippetMinRunes && !isGreeting(line) && !strings.HasPrefix(line, ">") {
			return Truncate(line, snippetMaxRunes)
		}
	}
	if len(lines) > 3 {
		lines = lines[:3]
	}
	return Truncate(strings.Join(lines, " "), snippetMaxRunes)
}

func isGreeting(line string) bool {
	l := strings.ToLower(line)
	for _, g := range greetings {
		if strings.HasPrefix(l, g) {
			return true
		}
	}
	return false
}

// Truncate 按 rune 截断，不拆分多字节字符
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

func runeLen(s string) int {
	return len([]rune(s))
}
