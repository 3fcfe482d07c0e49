package model

import (
	"errors"
	"strings"
)

// Enumerations persisted by the store. Values coming from the model or the API
// pass through the Normalize/Parse helpers before they reach a record.

type TaskStatus string

const (
	TaskNew        TaskStatus = "new"
	TaskInProgress TaskStatus = "in_progress"
	TaskPaused     TaskStatus = "paused"
	TaskClosed     TaskStatus = "closed"
	TaskArchived   TaskStatus = "archived"
)

var ErrInvalidTransition = errors.New("invalid task status transition")

var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskNew:        {TaskInProgress, TaskClosed},
	TaskInProgress: {TaskPaused, TaskClosed},
	TaskPaused:     {TaskInProgress},
	TaskClosed:     {TaskArchived},
}

func ParseTaskStatus(s string) (TaskStatus, bool) {
	st := TaskStatus(canonical(s))
	switch st {
	case TaskNew, TaskInProgress, TaskPaused, TaskClosed, TaskArchived:
		return st, true
	}
	return "", false
}

// CanTransition reports whether a task may move from one status to another.
// Setting the current status again is a no-op and allowed.
func CanTransition(from, to TaskStatus) bool {
	if from == to {
		return true
	}
	for _, next := range taskTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsOpen reports whether the completion scan may close the task.
func (s TaskStatus) IsOpen() bool {
	return s == TaskNew || s == TaskInProgress
}

type TriageBucket string

const (
	BucketQuickAction TriageBucket = "quick_action"
	BucketDeepWork    TriageBucket = "deep_work"
	BucketWaitingFor  TriageBucket = "waiting_for"
)

func NormalizeTriageBucket(s string) (TriageBucket, bool) {
	b := TriageBucket(canonical(s))
	switch b {
	case BucketQuickAction, BucketDeepWork, BucketWaitingFor:
		return b, true
	}
	return "", false
}

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
)

func NormalizePriority(s string) Priority {
	if canonical(s) == string(PriorityHigh) {
		return PriorityHigh
	}
	return PriorityMedium
}

type ApprovalStatus string

const (
	ApprovalPending   ApprovalStatus = "Pending"
	ApprovalApproved  ApprovalStatus = "Approved"
	ApprovalRejected  ApprovalStatus = "Rejected"
	ApprovalEscalated ApprovalStatus = "Escalated"
)

// ParseDecision accepts only the two human decisions.
func ParseDecision(s string) (ApprovalStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approved":
		return ApprovalApproved, true
	case "rejected":
		return ApprovalRejected, true
	}
	return "", false
}

type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

func NormalizeRisk(s string) RiskLevel {
	switch canonical(s) {
	case "low":
		return RiskLow
	case "high":
		return RiskHigh
	}
	return RiskMedium
}

// Rank orders risk for the approval feed.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskHigh:
		return 3
	case RiskMedium:
		return 2
	case RiskLow:
		return 1
	}
	return 0
}

type Recommendation string

const (
	RecommendApprove Recommendation = "Approve"
	RecommendReject  Recommendation = "Reject"
	RecommendReview  Recommendation = "Review"
)

func NormalizeRecommendation(s string) Recommendation {
	switch canonical(s) {
	case "approve", "approved":
		return RecommendApprove
	case "reject", "rejected":
		return RecommendReject
	}
	return RecommendReview
}

var requestTypes = []string{"Budget", "Leave", "Document", "Access", "IT Change", "General"}

// NormalizeRequestType maps model output onto the known request types,
// falling back to General.
func NormalizeRequestType(s string) string {
	c := canonical(s)
	for _, t := range requestTypes {
		if canonical(t) == c {
			return t
		}
	}
	return "General"
}

type SummaryStatus string

const (
	SummaryPending    SummaryStatus = "pending"
	SummaryGenerating SummaryStatus = "generating"
	SummaryGenerated  SummaryStatus = "generated"
	SummaryFailed     SummaryStatus = "failed"
)

// canonical lower-cases and folds spaces and dashes into underscores,
// so "Quick Action" and "quick-action" both match quick_action.
func canonical(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}
