// Package triage routes one inbound message to a task, an approval request, a
// digest snippet, or nowhere.
package triage

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"mailpilot/internal/heuristics"
	"mailpilot/internal/llm"
	"mailpilot/internal/mailbox"
	"mailpilot/internal/model"
	"mailpilot/internal/repository"
	"mailpilot/internal/textnorm"
	"mailpilot/pkg/db"
	"mailpilot/pkg/metrics"
	"mailpilot/pkg/otel"
)

type classification string

const (
	classAction   classification = "ACTION"
	classInfo     classification = "INFO"
	classSpam     classification = "SPAM"
	classApproval classification = "APPROVAL"
)

type TaskExtractor interface {
	Extract(ctx context.Context, msg *mailbox.Message, cleaned string, approvalOverride bool) (*model.Task, bool)
}

type ApprovalIngester interface {
	Ingest(ctx context.Context, msg *mailbox.Message) (*model.ApprovalRequest, bool)
}

// Observer records the participants of a routed message.
type Observer interface {
	Observe(ctx context.Context, mb mailbox.Client, msg *mailbox.Message, project string)
}

type Engine struct {
	claims      db.Querier
	gen         llm.Generator
	triageModel string
	tasks       TaskExtractor
	approvals   ApprovalIngester
	circle      Observer
	loc         *time.Location
	logger      *zap.Logger
}

func NewEngine(claims db.Querier, gen llm.Generator, triageModel string, tasks TaskExtractor, approvals ApprovalIngester, circle Observer, loc *time.Location, logger *zap.Logger) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{
		claims:      claims,
		gen:         gen,
		triageModel: triageModel,
		tasks:       tasks,
		approvals:   approvals,
		circle:      circle,
		loc:         loc,
		logger:      logger,
	}
}

// Route runs the decision steps for msg in order: dedup, junk, FYI prefix,
// approval override, model triage, then type-specific extraction.
func (e *Engine) Route(ctx context.Context, mb mailbox.Client, msg *mailbox.Message) Result {
	ctx, span := otel.StartSpan(ctx, "triage.route", attribute.String("message_id", msg.ID))
	res := e.route(ctx, mb, msg)
	span.SetAttributes(attribute.String("triage.route", res.Route()))
	otel.EndSpan(span, nil)

	metrics.IncrementTriageRoute(res.Route())
	return res
}

func (e *Engine) route(ctx context.Context, mb mailbox.Client, msg *mailbox.Message) Result {
	log := e.logger.With(zap.String("message_id", msg.ID), zap.String("subject", msg.Subject))

	claimed, err := repository.IsClaimed(ctx, e.claims, msg.ID)
	if err != nil {
		log.Error("dedup lookup failed, skipping message", zap.Error(err))
		return Discarded{Reason: ReasonLookupFailed}
	}
	if claimed {
		log.Debug("message already processed")
		return Discarded{Reason: ReasonDuplicate}
	}

	cleaned := textnorm.CleanBody(msg.Body)
	if heuristics.IsJunk(msg.From.DisplayName(), msg.Subject, cleaned) {
		log.Info("junk detected, discarding")
		return Discarded{Reason: ReasonJunk}
	}

	override := false
	var class classification
	switch {
	case heuristics.HasFYIPrefix(msg.Subject):
		log.Info("FYI prefix, forcing INFO")
		class = classInfo
	case heuristics.ApprovalOverride(msg.Subject, cleaned):
		log.Info("approval keywords, forcing APPROVAL")
		override = true
		class = classApproval
	default:
		text, ok := e.gen.Generate(ctx, llm.TriageRequest(e.triageModel, heuristics.Content(msg.Subject, cleaned)))
		class = classification(llm.ParseVerdict(text, ok))
	}
	log.Info("email classified", zap.String("classification", string(class)))

	if class == classApproval {
		if req, ok := e.approvals.Ingest(ctx, msg); ok {
			e.circle.Observe(ctx, mb, msg, "")
			return RoutedToApproval{Request: req}
		}
		log.Warn("approval ingestion failed, falling back to task")
		class = classAction
	}

	switch class {
	case classAction:
		if task, ok := e.tasks.Extract(ctx, msg, cleaned, override); ok {
			e.circle.Observe(ctx, mb, msg, task.Project)
			return RoutedToTask{Task: task}
		}
		log.Info("no qualifying task, demoting to snippet")
		return e.snippet(msg, cleaned)
	case classSpam:
		log.Info("model verdict SPAM, discarding")
		return Discarded{Reason: ReasonSpam}
	}
	return e.snippet(msg, cleaned)
}

func (e *Engine) snippet(msg *mailbox.Message, cleaned string) RoutedToSnippet {
	at := msg.ReceivedAt
	if at.IsZero() {
		at = time.Now()
	}
	return RoutedToSnippet{Snippet: model.Snippet{
		Sender:  msg.From.DisplayName(),
		Subject: msg.Subject,
		Snippet: textnorm.Snippet(cleaned),
		Date:    at.In(e.loc).Format(model.DateLayout),
	}}
}
