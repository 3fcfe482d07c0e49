// Package jobs 负责投递后台任务（同步、简报生成），以及单进程模式下的内存队列
package jobs

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	mqcontract "mailpilot/contracts/mq"
	"mailpilot/internal/mailbox"
	"mailpilot/pkg/trace"
)

// Publisher is satisfied by *mq.Publisher and *LocalQueue.
type Publisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
}

type Enqueuer struct {
	pub    Publisher
	logger *zap.Logger
}

func NewEnqueuer(pub Publisher, logger *zap.Logger) *Enqueuer {
	return &Enqueuer{pub: pub, logger: logger}
}

// EnqueueSync publishes a sync.requested job and returns its request id.
func (e *Enqueuer) EnqueueSync(ctx context.Context, userID int64, w mailbox.Window, suppressWatermark bool, trigger string) (string, error) {
	p := mqcontract.SyncRequestedPayload{
		RequestID: uuid.NewString(),
		TraceID:   trace.FromContext(ctx),
		UserID:    userID,
		Start:     w.Start.UTC(),
		End:       w.End.UTC(),
		Suppress:  suppressWatermark,
		Trigger:   trigger,
	}
	if err := e.pub.PublishWithContext(ctx, mqcontract.RoutingSyncRequested, p); err != nil {
		return "", fmt.Errorf("enqueue sync: %w", err)
	}
	e.logger.Info("Sync job enqueued",
		zap.String("request_id", p.RequestID),
		zap.Int64("user_id", userID),
		zap.String("trigger", trigger),
		zap.Time("start", p.Start),
		zap.Time("end", p.End),
	)
	return p.RequestID, nil
}

// EnqueueSummary publishes a summary.requested job for one summary row.
func (e *Enqueuer) EnqueueSummary(ctx context.Context, summaryID int64, date string) (string, error) {
	p := mqcontract.SummaryRequestedPayload{
		RequestID: uuid.NewString(),
		TraceID:   trace.FromContext(ctx),
		SummaryID: summaryID,
		Date:      date,
	}
	if err := e.pub.PublishWithContext(ctx, mqcontract.RoutingSummaryRequested, p); err != nil {
		return "", fmt.Errorf("enqueue summary: %w", err)
	}
	e.logger.Info("Summary job enqueued",
		zap.String("request_id", p.RequestID),
		zap.Int64("summary_id", summaryID),
		zap.String("date", date),
	)
	return p.RequestID, nil
}
