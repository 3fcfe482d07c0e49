package model

import "time"

// Snippet is an informational email kept for the daily briefing.
type Snippet struct {
	Sender  string `json:"sender"`
	Subject string `json:"subject"`
	Snippet string `json:"snippet"`
	Date    string `json:"date"`
}

// DailySummary collects snippets for one calendar day. Date is YYYY-MM-DD
// in the configured zone.
type DailySummary struct {
	ID          int64         `json:"id"`
	Date        string        `json:"summary_date"`
	Snippets    []Snippet     `json:"snippets"`
	Content     string        `json:"content"`
	Status      SummaryStatus `json:"status"`
	AudioPath   string        `json:"audio_path,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	GeneratedAt *time.Time    `json:"generated_at,omitempty"`
}

const DateLayout = "2006-01-02"
