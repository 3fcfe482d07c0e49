// Package tasks turns ACTION mail into Task records and owns the task
// lifecycle after creation.
package tasks

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"mailpilot/internal/heuristics"
	"mailpilot/internal/llm"
	"mailpilot/internal/mailbox"
	"mailpilot/internal/model"
	"mailpilot/internal/textnorm"
)

const (
	// MinConfidence 是 0-100 标度下接受任务的最低分
	MinConfidence         = 30
	defaultEffortMinutes  = 30
	quickActionMaxMinutes = 15
	unknownProject        = "Unknown"
)

// Settings supplies the extraction model and the current taxonomy.
type Settings interface {
	Model(ctx context.Context) string
	Taxonomy(ctx context.Context) llm.Taxonomy
}

type Extractor struct {
	gen      llm.Generator
	settings Settings
	now      func() time.Time
	logger   *zap.Logger
}

func NewExtractor(gen llm.Generator, settings Settings, logger *zap.Logger) *Extractor {
	return &Extractor{
		gen:      gen,
		settings: settings,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
}

// Extract asks the model for task details and maps an accepted answer onto an
// unsaved Task. ok=false means the message should be demoted to a snippet.
// approvalOverride forces the quick_action bucket.
func (e *Extractor) Extract(ctx context.Context, msg *mailbox.Message, cleaned string, approvalOverride bool) (*model.Task, bool) {
	content := heuristics.Content(msg.Subject, cleaned)
	text, ok := e.gen.Generate(ctx, llm.TaskRequest(e.settings.Model(ctx), content, e.settings.Taxonomy(ctx)))
	data, parsed := llm.ExtractJSON(text)
	if !ok || !parsed {
		e.logger.Warn("task extraction returned nothing usable",
			zap.String("message_id", msg.ID),
			zap.Bool("transport_ok", ok),
		)
		return nil, false
	}

	score, ok := data.Float("task_confidence_score")
	if !ok {
		score, _ = data.Float("confidence_score")
	}
	if !strings.EqualFold(data.Text("is_task"), "YES") || score < MinConfidence {
		e.logger.Info("task rejected",
			zap.String("message_id", msg.ID),
			zap.String("is_task", data.Text("is_task")),
			zap.Float64("confidence", score),
		)
		return nil, false
	}

	now := e.now()
	replies := data.Object("reply_options")
	t := &model.Task{
		MessageID:        msg.ID,
		Subject:          msg.Subject,
		Sender:           msg.From.DisplayName(),
		SenderEmail:      strings.ToLower(msg.From.Email),
		Status:           model.TaskNew,
		TriageCategory:   resolveBucket(data, approvalOverride),
		Summary:          firstNonEmpty(data.Text("task_summary"), msg.Subject),
		Detail:           firstNonEmpty(data.Text("task_detail"), textnorm.Snippet(cleaned)),
		RequiredAction:   data.Text("required_action"),
		ReplyAcknowledge: replies.Text("acknowledge"),
		ReplyDone:        replies.Text("done"),
		ReplyDelegate:    replies.Text("delegate"),
		Priority:         heuristics.Priority(msg.Subject, cleaned),
		Project:          firstNonEmpty(data.Text("project"), unknownProject),
		Tags:             data.Strings("tags"),
		DomainHint:       data.Text("domain_hint"),
		BusinessImpact:   data.Text("business_impact"),
		DelegatedTo:      delegateHint(data.Text("delegated_to_hint")),
		ToRecipients:     mailbox.Emails(msg.To),
		CcRecipients:     mailbox.Emails(msg.Cc),
		Item:             msg.Item,
		ReceivedAt:       receivedUTC(msg.ReceivedAt, now),
		CreatedAt:        now,
		StatusUpdatedAt:  &now,
	}
	if minutes, ok := data.Float("effort_estimate_minutes"); ok && minutes != 0 {
		hours := minutes / 60
		t.EffortHours = &hours
	}
	return t, true
}

func resolveBucket(data llm.Object, approvalOverride bool) model.TriageBucket {
	if approvalOverride {
		return model.BucketQuickAction
	}
	if b, ok := model.NormalizeTriageBucket(data.Text("triage_category")); ok {
		return b
	}
	minutes, ok := data.Float("effort_estimate_minutes")
	if !ok {
		minutes = defaultEffortMinutes
	}
	if minutes < quickActionMaxMinutes {
		return model.BucketQuickAction
	}
	return model.BucketDeepWork
}

func delegateHint(s string) string {
	switch strings.ToLower(s) {
	case "null", "none", "n/a":
		return ""
	}
	return s
}

// receivedUTC 零值时间视为转换失败，用当前时间代替
func receivedUTC(t, now time.Time) time.Time {
	if t.IsZero() {
		return now
	}
	return t.UTC()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
