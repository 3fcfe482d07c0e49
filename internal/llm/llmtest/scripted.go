// Package llmtest provides a scripted llm.Generator for tests.
package llmtest

import (
	"context"
	"strings"
	"sync"

	"mailpilot/internal/llm"
)

// Reply is one canned answer. OK=false simulates a transport failure.
type Reply struct {
	Text string
	OK   bool
}

func Text(s string) Reply { return Reply{Text: s, OK: true} }

func Fail() Reply { return Reply{} }

// Scripted answers by the first rule whose Match is contained in the prompt,
// falling back to Default. Every request is recorded.
type Scripted struct {
	Rules   []Rule
	Default Reply

	mu       sync.Mutex
	Requests []llm.Request
}

type Rule struct {
	Match string
	Reply Reply
}

func (s *Scripted) On(match string, r Reply) *Scripted {
	s.Rules = append(s.Rules, Rule{Match: match, Reply: r})
	return s
}

func (s *Scripted) Generate(_ context.Context, req llm.Request) (string, bool) {
	s.mu.Lock()
	s.Requests = append(s.Requests, req)
	s.mu.Unlock()
	for _, r := range s.Rules {
		if strings.Contains(req.Prompt, r.Match) || strings.Contains(req.System, r.Match) {
			return r.Reply.Text, r.Reply.OK
		}
	}
	return s.Default.Text, s.Default.OK
}

// Calls counts recorded requests whose prompt contains substr.
func (s *Scripted) Calls(substr string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.Requests {
		if strings.Contains(r.Prompt, substr) {
			n++
		}
	}
	return n
}
