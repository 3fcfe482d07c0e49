// Package mqhandler 消费 sync.requested / summary.requested 任务
package mqhandler

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"mailpilot/pkg/util"
)

const defaultMaxRetries = 5

// Deduper is satisfied by *util.Deduper.
type Deduper interface {
	AcquireOnce(ctx context.Context, handler, id string) bool
	Release(ctx context.Context, handler, id string)
}

// RetryCounter is satisfied by *util.RetryCounter.
type RetryCounter interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// DeadLetter is satisfied by *mq.Publisher.
type DeadLetter interface {
	PublishToDLQ(ctx context.Context, routingKey string, payload []byte, originalError, source string) error
}

// Options 中任一组件为 nil 时跳过对应步骤（单进程模式没有 Redis 与 MQ）
type Options struct {
	Deduper    Deduper
	Retries    RetryCounter
	DLQ        DeadLetter
	MaxRetries int
}

// guard 封装去重、重试计数与死信投递
type guard struct {
	name       string
	routingKey string
	opts       Options
	logger     *zap.Logger
}

func newGuard(name, routingKey string, opts Options, logger *zap.Logger) guard {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	return guard{name: name, routingKey: routingKey, opts: opts, logger: logger}
}

func (g guard) acquire(ctx context.Context, id string) bool {
	if g.opts.Deduper == nil || id == "" {
		return true
	}
	return g.opts.Deduper.AcquireOnce(ctx, g.name, id)
}

func (g guard) done(ctx context.Context, id string) {
	if g.opts.Retries != nil && id != "" {
		_ = g.opts.Retries.Reset(ctx, util.FormatRetryKey(g.name, id))
	}
}

// badPayload 无法解析的消息直接进入死信队列并 ack
func (g guard) badPayload(ctx context.Context, raw json.RawMessage, err error) error {
	g.logger.Error("Invalid payload, sending to DLQ",
		zap.String("handler", g.name),
		zap.String("raw", string(raw)),
		zap.Error(err),
	)
	g.deadLetter(ctx, raw, err)
	return nil
}

// fail decides between nack (retry) and ack+DLQ. Returning an error makes the
// consumer requeue the message.
func (g guard) fail(ctx context.Context, id string, raw json.RawMessage, err error) error {
	retryable, errType := util.IsRetryableError(err)

	var attempt int64
	if g.opts.Retries != nil && id != "" {
		n, cerr := g.opts.Retries.IncrementAndGet(ctx, util.FormatRetryKey(g.name, id))
		if cerr != nil {
			g.logger.Warn("Retry counter unavailable", zap.Error(cerr))
		}
		attempt = n
	}

	log := g.logger.With(
		zap.String("handler", g.name),
		zap.String("request_id", id),
		zap.String("error_type", errType),
		zap.Bool("retryable", retryable),
		zap.Int64("attempt", attempt),
		zap.Error(err),
	)

	if retryable && attempt <= int64(g.opts.MaxRetries) && g.opts.Retries != nil {
		log.Warn("Job failed, will retry")
		if g.opts.Deduper != nil && id != "" {
			g.opts.Deduper.Release(ctx, g.name, id)
		}
		return err
	}

	if retryable {
		log.Error("Max retries exceeded, sending to DLQ")
	} else {
		log.Error("Non-retryable job error, sending to DLQ")
	}
	g.deadLetter(ctx, raw, err)
	g.done(ctx, id)
	return nil
}

func (g guard) deadLetter(ctx context.Context, raw json.RawMessage, cause error) {
	if g.opts.DLQ == nil {
		return
	}
	if err := g.opts.DLQ.PublishToDLQ(ctx, g.routingKey, raw, cause.Error(), g.name); err != nil {
		g.logger.Error("Failed to publish to DLQ", zap.String("handler", g.name), zap.Error(err))
	}
}
