package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailpilot/pkg/metrics"
	"mailpilot/pkg/mq"
	"mailpilot/pkg/trace"
)

const (
	defaultQueueSize = 64
	localQueueName   = "local"
)

var ErrQueueFull = errors.New("local queue full")

type delivery struct {
	key     string
	body    json.RawMessage
	traceID string
}

// LocalQueue is an in-process stand-in for the broker used by the single
// process mode. Routing keys without a handler are logged and dropped.
type LocalQueue struct {
	mu       sync.RWMutex
	handlers map[string]mq.MessageHandler
	ch       chan delivery
	logger   *zap.Logger
}

func NewLocalQueue(size int, logger *zap.Logger) *LocalQueue {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &LocalQueue{
		handlers: make(map[string]mq.MessageHandler),
		ch:       make(chan delivery, size),
		logger:   logger,
	}
}

// Handle 注册 routing key 的处理函数
func (q *LocalQueue) Handle(routingKey string, h mq.MessageHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[routingKey] = h
}

func (q *LocalQueue) PublishWithContext(ctx context.Context, routingKey string, payload any) error {
	var body json.RawMessage
	switch v := payload.(type) {
	case json.RawMessage:
		body = v
	case []byte:
		body = v
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", routingKey, err)
		}
		body = b
	}
	q.mu.RLock()
	_, ok := q.handlers[routingKey]
	q.mu.RUnlock()
	if !ok {
		q.logger.Debug("No local handler, event dropped", zap.String("routing_key", routingKey))
		return nil
	}

	select {
	case q.ch <- delivery{key: routingKey, body: body, traceID: trace.FromContext(ctx)}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Start runs workers until ctx is cancelled.
func (q *LocalQueue) Start(ctx context.Context, workers int) error {
	if workers <= 0 {
		workers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case d := <-q.ch:
					q.dispatch(ctx, d)
				}
			}
		})
	}
	return g.Wait()
}

func (q *LocalQueue) dispatch(parent context.Context, d delivery) {
	q.mu.RLock()
	h := q.handlers[d.key]
	q.mu.RUnlock()

	ctx := parent
	if d.traceID != "" {
		ctx = trace.WithContext(ctx, d.traceID)
	} else {
		ctx, _ = trace.Ensure(ctx)
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Local handler panic recovered", zap.String("routing_key", d.key), zap.Any("panic", r))
		}
		metrics.RecordMQConsumeLatency(d.key, localQueueName, time.Since(start))
	}()

	if err := h(ctx, d.body); err != nil {
		q.logger.Error("Local handler error",
			zap.String("routing_key", d.key),
			zap.String("trace_id", trace.FromContext(ctx)),
			zap.Error(err),
		)
	}
}
