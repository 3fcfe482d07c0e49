package outbox

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mailpilot/pkg/metrics"
)

// DefaultMaxRetries 超过后事件置为 failed，只能通过 replay 重新发送
const DefaultMaxRetries = 5

type Option func(*Dispatcher)

func WithMaxRetries(n int) Option {
	return func(d *Dispatcher) { d.maxRetries = n }
}

func WithInterval(interval time.Duration) Option {
	return func(d *Dispatcher) { d.interval = interval }
}

func WithBatchSize(n int) Option {
	return func(d *Dispatcher) { d.batchSize = n }
}

// Dispatcher 轮询 outbox_events，把到期的 pending 事件发布到 events exchange
type Dispatcher struct {
	repo       *Repository
	publisher  Publisher
	logger     *zap.Logger
	maxRetries int
	interval   time.Duration
	batchSize  int
}

func NewDispatcher(repo *Repository, publisher Publisher, logger *zap.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		repo:       repo,
		publisher:  publisher,
		logger:     logger,
		maxRetries: DefaultMaxRetries,
		interval:   time.Second,
		batchSize:  100,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start 阻塞运行直到 ctx 结束
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("Outbox dispatcher started",
		zap.Int("max_retries", d.maxRetries),
		zap.Duration("interval", d.interval),
		zap.Int("batch_size", d.batchSize),
	)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Outbox dispatcher stopped")
			return
		case <-ticker.C:
			if _, err := d.RunOnce(ctx); err != nil {
				d.logger.Error("Outbox poll failed", zap.Error(err))
			}
		}
	}
}

// RunOnce 处理一批到期事件，返回成功发布的数量
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	events, err := d.repo.GetPendingEvents(ctx, d.batchSize)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, e := range events {
		if err := deliver(ctx, d.repo, d.publisher, e, d.maxRetries); err != nil {
			d.logger.Warn("Outbox event not delivered",
				zap.Int64("event_id", e.ID),
				zap.String("routing_key", e.RoutingKey),
				zap.Int("attempt", e.RetryCount+1),
				zap.Error(err),
			)
			continue
		}
		sent++
	}
	return sent, nil
}

// deliver publishes e under the trace id stored in its payload and records
// the outcome on the row.
func deliver(ctx context.Context, repo *Repository, pub Publisher, e *Event, maxRetries int) error {
	if err := pub.PublishWithContext(contextFromPayload(ctx, e.Payload), e.RoutingKey, e.Payload); err != nil {
		metrics.IncrementOutboxPublish(e.RoutingKey, "error")
		if markErr := repo.MarkAsFailed(ctx, e.ID, maxRetries); markErr != nil {
			return fmt.Errorf("publish %s: %w (mark failed: %v)", e.RoutingKey, err, markErr)
		}
		return fmt.Errorf("publish %s: %w", e.RoutingKey, err)
	}
	metrics.IncrementOutboxPublish(e.RoutingKey, "success")
	return repo.MarkAsSent(ctx, e.ID)
}
