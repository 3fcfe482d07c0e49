package triage

import "mailpilot/internal/model"

// Result is the terminal state of one message. It is one of Discarded,
// RoutedToTask, RoutedToApproval or RoutedToSnippet.
type Result interface {
	Route() string
	sealed()
}

// Discard reasons.
const (
	ReasonDuplicate    = "duplicate"
	ReasonJunk         = "junk"
	ReasonSpam         = "spam"
	ReasonLookupFailed = "dedup_lookup_failed"
)

type Discarded struct {
	Reason string
}

// RoutedToTask carries an unsaved task; the caller persists it.
type RoutedToTask struct {
	Task *model.Task
}

// RoutedToApproval carries the stored request.
type RoutedToApproval struct {
	Request *model.ApprovalRequest
}

// RoutedToSnippet carries a digest entry for the day the message arrived.
type RoutedToSnippet struct {
	Snippet model.Snippet
}

func (Discarded) Route() string        { return "discarded" }
func (RoutedToTask) Route() string     { return "task" }
func (RoutedToApproval) Route() string { return "approval" }
func (RoutedToSnippet) Route() string  { return "snippet" }

func (Discarded) sealed()        {}
func (RoutedToTask) sealed()     {}
func (RoutedToApproval) sealed() {}
func (RoutedToSnippet) sealed()  {}
