package model

import "time"

// FiveW1H is the structured detail blob of an approval request.
type FiveW1H struct {
	Who     string `json:"who,omitempty"`
	What    string `json:"what,omitempty"`
	When    string `json:"when,omitempty"`
	Where   string `json:"where,omitempty"`
	Why     string `json:"why,omitempty"`
	How     string `json:"how,omitempty"`
	Details string `json:"details,omitempty"`
}

type ApprovalRequest struct {
	ID             int64          `json:"id"`
	MessageID      string         `json:"email_message_id"`
	Item           ItemRef        `json:"mailbox_item"`
	Subject        string         `json:"subject"`
	Sender         string         `json:"sender"`
	SenderEmail    string         `json:"sender_email"`
	RequestType    string         `json:"request_type"`
	Summary        string         `json:"summary"`
	Details        FiveW1H        `json:"details_5w1h"`
	RiskLevel      RiskLevel      `json:"risk_level"`
	Recommendation Recommendation `json:"ai_recommendation"`
	Confidence     float64        `json:"confidence_score"`
	ImpactAnalysis string         `json:"impact_analysis,omitempty"`
	ConflictFlag   string         `json:"conflict_flag,omitempty"`
	Status         ApprovalStatus `json:"status"`
	HumanNotes     string         `json:"human_notes,omitempty"`
	HumanActionAt  *time.Time     `json:"human_action_at,omitempty"`
	ReceivedAt     time.Time      `json:"received_at"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Audit actions.
const (
	AuditAIClassified = "AI_Classified"
	auditUserPrefix   = "User_"
)

// UserAuditAction is the audit action written for a human decision.
func UserAuditAction(decision ApprovalStatus) string {
	return auditUserPrefix + string(decision)
}

// AuditLog is append-only.
type AuditLog struct {
	ID         int64          `json:"id"`
	ApprovalID int64          `json:"approval_id"`
	Action     string         `json:"action"`
	Metadata   map[string]any `json:"metadata"`
	Timestamp  time.Time      `json:"timestamp"`
}

// NormalizeConfidence accepts both 0..1 and percentage scores.
func NormalizeConfidence(v float64) float64 {
	if v > 1 && v <= 100 {
		v /= 100
	}
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
