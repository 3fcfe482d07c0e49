package mq

import "time"

// SyncRequestedPayload 触发一次邮箱同步；Suppress 为 true 时不写 watermark（历史回填）
type SyncRequestedPayload struct {
	RequestID string    `json:"request_id"`
	TraceID   string    `json:"trace_id,omitempty"`
	UserID    int64     `json:"user_id"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Suppress  bool      `json:"suppress_watermark"`
	Trigger   string    `json:"trigger"` // manual / scheduled / historical
}

// SummaryRequestedPayload 生成某一天的 DailySummary
type SummaryRequestedPayload struct {
	RequestID string `json:"request_id"`
	TraceID   string `json:"trace_id,omitempty"`
	SummaryID int64  `json:"summary_id,omitempty"`
	Date      string `json:"date,omitempty"` // YYYY-MM-DD，SummaryID 为空时使用
}
