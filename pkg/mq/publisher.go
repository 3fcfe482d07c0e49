package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rabbitmq/amqp091-go"

	"mailpilot/pkg/otel"
	"mailpilot/pkg/trace"
)

type Publisher struct {
	sess *session
	mu   sync.Mutex
}

func NewPublisher(url string) (*Publisher, error) {
	sess, err := openSession(url)
	if err != nil {
		return nil, err
	}
	return &Publisher{sess: sess}, nil
}

func (p *Publisher) Close() { p.sess.close() }

// IsConnected checks if the publisher connection is still alive
func (p *Publisher) IsConnected() bool { return p.sess.alive() }

// PublishWithContext JSON 编码 payload 并发布到 events exchange；
// trace_id 与 OpenTelemetry context 通过消息头传递
func (p *Publisher) PublishWithContext(ctx context.Context, routingKey string, payload any) error {
	var body []byte
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

	headers := amqp091.Table{}
	if traceID := trace.FromContext(ctx); traceID != "" {
		headers[trace.HeaderName] = traceID
	}
	ctx, span := otel.MQPublishSpan(ctx, routingKey, ExchangeName, headers)
	err := p.publish(ctx, ExchangeName, routingKey, body, headers)
	otel.EndSpan(span, err)
	return err
}

func (p *Publisher) publish(ctx context.Context, exchange, routingKey string, body []byte, headers amqp091.Table) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.sess.channel.PublishWithContext(
		ctx,
		exchange,
		routingKey,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp091.Persistent,
			Headers:      headers,
		},
	)
}
