package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	mqcontract "mailpilot/contracts/mq"
	"mailpilot/internal/mailbox"
	"mailpilot/internal/syncer"
	"mailpilot/pkg/logger"
	"mailpilot/pkg/trace"
)

type MailboxSource interface {
	Get(ctx context.Context, userID int64) (mailbox.Client, error)
}

type SyncRunner interface {
	Run(ctx context.Context, mb mailbox.Client, req syncer.Request) syncer.Result
}

// syncFailedError 同步失败多为邮箱传输问题，按可重试处理
type syncFailedError struct{ msg string }

func (e syncFailedError) Error() string   { return "sync failed: " + e.msg }
func (e syncFailedError) Retryable() bool { return true }

type SyncHandler struct {
	accounts MailboxSource
	runner   SyncRunner
	guard    guard
	logger   *zap.Logger
}

func NewSyncHandler(accounts MailboxSource, runner SyncRunner, opts Options, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{
		accounts: accounts,
		runner:   runner,
		guard:    newGuard("sync", mqcontract.RoutingSyncRequested, opts, logger),
		logger:   logger,
	}
}

func (h *SyncHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	var p mqcontract.SyncRequestedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return h.guard.badPayload(ctx, raw, err)
	}
	if p.UserID == 0 || !p.Start.Before(p.End) {
		return h.guard.badPayload(ctx, raw, fmt.Errorf("invalid sync request: user %d window %s..%s", p.UserID, p.Start, p.End))
	}
	if p.TraceID != "" && trace.FromContext(ctx) == "" {
		ctx = trace.WithContext(ctx, p.TraceID)
	}
	log := logger.WithTrace(ctx, h.logger).With(
		zap.String("request_id", p.RequestID),
		zap.Int64("user_id", p.UserID),
		zap.String("trigger", p.Trigger),
	)

	if !h.guard.acquire(ctx, p.RequestID) {
		log.Info("Duplicated sync request, skip")
		return nil
	}

	mb, err := h.accounts.Get(ctx, p.UserID)
	if err != nil {
		if errors.Is(err, mailbox.ErrNotConnected) {
			// 用户未授权，重试没有意义
			log.Warn("Mailbox not connected, dropping sync request")
			h.guard.done(ctx, p.RequestID)
			return nil
		}
		return h.guard.fail(ctx, p.RequestID, raw, fmt.Errorf("open mailbox: %w", err))
	}

	res := h.runner.Run(ctx, mb, syncer.Request{
		UserID:            p.UserID,
		Window:            mailbox.Window{Start: p.Start, End: p.End},
		SuppressWatermark: p.Suppress,
		Trigger:           p.Trigger,
	})
	if !res.Success {
		return h.guard.fail(ctx, p.RequestID, raw, syncFailedError{msg: res.Error})
	}

	h.guard.done(ctx, p.RequestID)
	log.Info("Sync request processed",
		zap.Int("analyzed", res.Analyzed),
		zap.Int("created_tasks", res.CreatedTasks),
		zap.Int("approvals", res.Approvals),
		zap.Int("auto_completed", res.AutoCompleted),
	)
	return nil
}
