package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	mqcontract "mailpilot/contracts/mq"
	"mailpilot/internal/model"
	"mailpilot/internal/summary"
	"mailpilot/pkg/logger"
	"mailpilot/pkg/trace"
)

type SummaryGenerator interface {
	EnsureDate(ctx context.Context, date string) (*model.DailySummary, error)
	Generate(ctx context.Context, id int64) (*model.DailySummary, error)
}

type SummaryHandler struct {
	summaries SummaryGenerator
	guard     guard
	logger    *zap.Logger
}

func NewSummaryHandler(summaries SummaryGenerator, opts Options, logger *zap.Logger) *SummaryHandler {
	return &SummaryHandler{
		summaries: summaries,
		guard:     newGuard("summary", mqcontract.RoutingSummaryRequested, opts, logger),
		logger:    logger,
	}
}

func (h *SummaryHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	var p mqcontract.SummaryRequestedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return h.guard.badPayload(ctx, raw, err)
	}
	if p.SummaryID == 0 && p.Date == "" {
		return h.guard.badPayload(ctx, raw, fmt.Errorf("summary request without id or date"))
	}
	if p.TraceID != "" && trace.FromContext(ctx) == "" {
		ctx = trace.WithContext(ctx, p.TraceID)
	}
	log := logger.WithTrace(ctx, h.logger).With(zap.String("request_id", p.RequestID))

	if !h.guard.acquire(ctx, p.RequestID) {
		log.Info("Duplicated summary request, skip")
		return nil
	}

	id := p.SummaryID
	if id == 0 {
		s, err := h.summaries.EnsureDate(ctx, p.Date)
		if err != nil {
			return h.guard.fail(ctx, p.RequestID, raw, err)
		}
		id = s.ID
	}

	s, err := h.summaries.Generate(ctx, id)
	if err != nil {
		if errors.Is(err, summary.ErrNotFound) {
			log.Warn("Summary no longer exists", zap.Int64("summary_id", id))
			h.guard.done(ctx, p.RequestID)
			return nil
		}
		return h.guard.fail(ctx, p.RequestID, raw, err)
	}

	h.guard.done(ctx, p.RequestID)
	log.Info("Summary generated", zap.Int64("summary_id", s.ID), zap.String("date", s.Date))
	return nil
}
