package mq

import (
	"context"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"mailpilot/pkg/trace"
)

// dlqQueueName 每个作业 routing key 一个死信队列，如 sync.requested.dlq
func dlqQueueName(routingKey string) string {
	return routingKey + ".dlq"
}

// PublishToDLQ 把放弃重试的作业原样投递到死信 exchange，失败原因放在消息头里
func (p *Publisher) PublishToDLQ(ctx context.Context, routingKey string, payload []byte, originalError, source string) error {
	headers := amqp091.Table{
		"x-original-error": originalError,
		"x-failed-at":      source,
		"x-failed-time":    time.Now().UTC().Format(time.RFC3339),
	}
	if traceID := trace.FromContext(ctx); traceID != "" {
		headers[trace.HeaderName] = traceID
	}
	return p.publish(ctx, DLQExchangeName, routingKey, payload, headers)
}
