// Package syncer runs one mailbox sync: completion scan, per-message triage,
// task persistence, digest snippets and the watermark.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	mqcontract "mailpilot/contracts/mq"
	"mailpilot/internal/mailbox"
	"mailpilot/internal/model"
	"mailpilot/internal/repository"
	"mailpilot/internal/triage"
	"mailpilot/pkg/db"
	"mailpilot/pkg/metrics"
	"mailpilot/pkg/otel"
	"mailpilot/pkg/outbox"
)

// Triggers.
const (
	TriggerManual     = "manual"
	TriggerScheduled  = "scheduled"
	TriggerHistorical = "historical"
)

type Router interface {
	Route(ctx context.Context, mb mailbox.Client, msg *mailbox.Message) triage.Result
}

type TaskCreator interface {
	Create(ctx context.Context, t *model.Task) error
}

type CompletionScanner interface {
	Scan(ctx context.Context, mb mailbox.Client, w mailbox.Window) int
}

type Watermark interface {
	SaveLastSync(ctx context.Context, at time.Time) error
}

// Request 描述一次同步
type Request struct {
	UserID            int64
	Window            mailbox.Window
	SuppressWatermark bool
	Trigger           string
}

// Result is returned for every run; failures set Success=false and Error.
type Result struct {
	Success       bool   `json:"success"`
	Analyzed      int    `json:"analyzed"`
	CreatedTasks  int    `json:"created_tasks"`
	Approvals     int    `json:"approvals"`
	AutoCompleted int    `json:"auto_completed"`
	Snippets      int    `json:"snippets"`
	Discarded     int    `json:"discarded"`
	Error         string `json:"error,omitempty"`
}

type Orchestrator struct {
	conn      db.Conn
	router    Router
	tasks     TaskCreator
	scanner   CompletionScanner
	watermark Watermark
	summaries *repository.SummaryRepository
	outbox    *outbox.Repository
	maxEmails int
	loc       *time.Location
	now       func() time.Time
	logger    *zap.Logger
}

func NewOrchestrator(conn db.Conn, router Router, tasks TaskCreator, scanner CompletionScanner, watermark Watermark, events *outbox.Repository, maxEmails int, loc *time.Location, logger *zap.Logger) *Orchestrator {
	if loc == nil {
		loc = time.UTC
	}
	return &Orchestrator{
		conn:      conn,
		router:    router,
		tasks:     tasks,
		scanner:   scanner,
		watermark: watermark,
		summaries: repository.NewSummaryRepository(conn),
		outbox:    events,
		maxEmails: maxEmails,
		loc:       loc,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
}

// Run never returns an error; inspect Result.Success.
func (o *Orchestrator) Run(ctx context.Context, mb mailbox.Client, req Request) (res Result) {
	if req.Trigger == "" {
		req.Trigger = TriggerManual
	}
	w := mailbox.Window{Start: req.Window.Start.In(o.loc), End: req.Window.End.In(o.loc)}
	log := o.logger.With(
		zap.Int64("user_id", req.UserID),
		zap.String("trigger", req.Trigger),
		zap.Time("start", w.Start),
		zap.Time("end", w.End),
	)
	ctx, span := otel.StartSpan(ctx, "sync.run",
		attribute.String("sync.trigger", req.Trigger),
		attribute.Int64("user.id", req.UserID),
	)
	start := time.Now()

	defer func() {
		var err error
		if r := recover(); r != nil {
			err = fmt.Errorf("sync panicked: %v", r)
			res = Result{Error: err.Error()}
		} else if !res.Success {
			err = errors.New(res.Error)
		}
		status := "success"
		if err != nil {
			status = "error"
			log.Error("sync failed", zap.Error(err))
		}
		metrics.RecordSyncRun(req.Trigger, status, time.Since(start))
		otel.EndSpan(span, err)
	}()

	if mb == nil {
		return Result{Error: mailbox.ErrNotConnected.Error()}
	}
	log.Info("starting sync")

	msgs, err := mb.FetchInbox(ctx, w, o.maxEmails)
	if err != nil {
		return Result{Error: fmt.Sprintf("fetch inbox: %v", err)}
	}

	res.AutoCompleted = o.scanner.Scan(ctx, mb, w)
	if res.AutoCompleted > 0 {
		log.Info("auto-completed tasks from sent replies", zap.Int("count", res.AutoCompleted))
	}

	var snippets []model.Snippet
	for i := range msgs {
		if err := ctx.Err(); err != nil {
			return Result{Error: err.Error()}
		}
		msg := &msgs[i]
		switch r := o.router.Route(ctx, mb, msg).(type) {
		case triage.RoutedToTask:
			if o.createTask(ctx, r.Task) {
				res.CreatedTasks++
			}
		case triage.RoutedToApproval:
			res.Approvals++
		case triage.RoutedToSnippet:
			snippets = append(snippets, r.Snippet)
		case triage.Discarded:
			res.Discarded++
		}
	}
	res.Analyzed = len(msgs)
	res.Snippets = len(snippets)

	if err := o.finish(ctx, req, w, snippets, res); err != nil {
		return Result{Error: err.Error()}
	}
	if !req.SuppressWatermark {
		if err := o.watermark.SaveLastSync(ctx, w.End); err != nil {
			return Result{Error: fmt.Sprintf("save watermark: %v", err)}
		}
	}

	res.Success = true
	log.Info("sync finished",
		zap.Int("analyzed", res.Analyzed),
		zap.Int("created_tasks", res.CreatedTasks),
		zap.Int("approvals", res.Approvals),
		zap.Int("snippets", res.Snippets),
	)
	return res
}

// createTask 单条提交；重复消息静默跳过，其他错误记录后继续
func (o *Orchestrator) createTask(ctx context.Context, t *model.Task) bool {
	err := o.tasks.Create(ctx, t)
	switch {
	case err == nil:
		return true
	case errors.Is(err, repository.ErrDuplicate):
		o.logger.Info("task already exists, skipping", zap.String("message_id", t.MessageID))
	default:
		o.logger.Error("task insert failed", zap.String("message_id", t.MessageID), zap.Error(err))
	}
	return false
}

// finish merges snippets into the start day's summary and records the
// sync.completed event in one transaction.
func (o *Orchestrator) finish(ctx context.Context, req Request, w mailbox.Window, snippets []model.Snippet, res Result) error {
	date := w.Start.Format(model.DateLayout)
	return db.WithTx(ctx, o.conn, func(tx db.Tx) error {
		if err := o.summaries.WithTx(tx).AppendSnippets(ctx, date, snippets, o.now()); err != nil {
			return fmt.Errorf("merge snippets into %s: %w", date, err)
		}
		return o.outbox.Enqueue(ctx, tx, mqcontract.AggregateSync, req.UserID, mqcontract.RoutingSyncCompleted, mqcontract.SyncCompletedPayload{
			UserID:        req.UserID,
			Trigger:       req.Trigger,
			Start:         w.Start.UTC(),
			End:           w.End.UTC(),
			Analyzed:      res.Analyzed,
			CreatedTasks:  res.CreatedTasks,
			Approvals:     res.Approvals,
			AutoCompleted: res.AutoCompleted,
			Snippets:      len(snippets),
		})
	})
}
