package model

import "time"

// ItemRef is the provider handle of a mailbox item. It may expire; the
// stable message id is the durable key.
type ItemRef struct {
	ID        string `json:"id,omitempty"`
	ChangeKey string `json:"change_key,omitempty"`
}

type Task struct {
	ID                 int64        `json:"id"`
	MessageID          string       `json:"email_message_id"`
	Subject            string       `json:"subject"`
	Sender             string       `json:"sender"`
	SenderEmail        string       `json:"sender_email"`
	Status             TaskStatus   `json:"status"`
	TriageCategory     TriageBucket `json:"triage_category"`
	Summary            string       `json:"task_summary"`
	Detail             string       `json:"task_detail"`
	RequiredAction     string       `json:"required_action"`
	ReplyAcknowledge   string       `json:"reply_acknowledge"`
	ReplyDone          string       `json:"reply_done"`
	ReplyDelegate      string       `json:"reply_delegate"`
	Priority           Priority     `json:"priority"`
	Project            string       `json:"project"`
	Tags               []string     `json:"tags"`
	DomainHint         string       `json:"domain_hint"`
	EffortHours        *float64     `json:"effort_estimate_hours,omitempty"`
	BusinessImpact     string       `json:"business_impact"`
	DelegatedTo        string       `json:"delegated_to,omitempty"`
	DelegatedAt        *time.Time   `json:"delegated_at,omitempty"`
	ActionTaken        string       `json:"action_taken,omitempty"`
	CompletionEvidence string       `json:"completion_evidence,omitempty"`
	AutoCompletedAt    *time.Time   `json:"auto_completed_at,omitempty"`
	ClosedAt           *time.Time   `json:"closed_at,omitempty"`
	ToRecipients       []string     `json:"to_recipients"`
	CcRecipients       []string     `json:"cc_recipients"`
	Item               ItemRef      `json:"mailbox_item"`
	ReceivedAt         time.Time    `json:"received_at"`
	CreatedAt          time.Time    `json:"created_at"`
	StatusUpdatedAt    *time.Time   `json:"status_updated_at,omitempty"`
}

// Action labels recorded on tasks.
const (
	ActionManualCompletion = "Manual Completion"
	ActionRepliedViaApp    = "Replied via App"
	ActionCompletedReplied = "Completed & Replied"
	ActionAutoCompleted    = "auto_completed"
)
