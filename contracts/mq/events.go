package mq

import "time"

type TaskCreatedPayload struct {
	TaskID         int64  `json:"task_id"`
	MessageID      string `json:"message_id"`
	Subject        string `json:"subject"`
	SenderEmail    string `json:"sender_email"`
	TriageCategory string `json:"triage_category"`
	Priority       string `json:"priority"`
	Project        string `json:"project"`
}

type TaskAutoCompletedPayload struct {
	TaskID          int64     `json:"task_id"`
	MessageID       string    `json:"message_id"`
	ReplyMessageID  string    `json:"reply_message_id"`
	AutoCompletedAt time.Time `json:"auto_completed_at"`
}

type ApprovalCreatedPayload struct {
	ApprovalID     int64   `json:"approval_id"`
	MessageID      string  `json:"message_id"`
	RequestType    string  `json:"request_type"`
	RiskLevel      string  `json:"risk_level"`
	Recommendation string  `json:"recommendation"`
	Confidence     float64 `json:"confidence"`
}

type ApprovalDecidedPayload struct {
	ApprovalID int64     `json:"approval_id"`
	Status     string    `json:"status"`
	Notes      string    `json:"notes,omitempty"`
	DecidedAt  time.Time `json:"decided_at"`
}

type SyncCompletedPayload struct {
	UserID        int64     `json:"user_id"`
	Trigger       string    `json:"trigger"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Analyzed      int       `json:"analyzed"`
	CreatedTasks  int       `json:"created_tasks"`
	Approvals     int       `json:"approvals"`
	AutoCompleted int       `json:"auto_completed"`
	Snippets      int       `json:"snippets"`
}
