package mq

import (
	"fmt"

	"github.com/rabbitmq/amqp091-go"
)

// 作业与领域事件共用一个 topic exchange，按 routing key 区分
const (
	ExchangeName    = "events"
	DLQExchangeName = "events.dlq"
)

// session 持有一条连接和一个已声明 events / events.dlq 的 channel
type session struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

func openSession(url string) (*session, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	s := &session{conn: conn, channel: ch}
	for _, name := range []string{ExchangeName, DLQExchangeName} {
		if err := ch.ExchangeDeclare(name, "topic", true, false, false, false, nil); err != nil {
			s.close()
			return nil, fmt.Errorf("failed to declare exchange %s: %w", name, err)
		}
	}
	return s, nil
}

// bindQueue 声明持久队列并绑定到 exchange
func (s *session) bindQueue(name, routingKey, exchange string) (amqp091.Queue, error) {
	q, err := s.channel.QueueDeclare(name, true, false, false, false, nil)
	if err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to declare queue %s: %w", name, err)
	}
	if err := s.channel.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to bind queue %s: %w", name, err)
	}
	return q, nil
}

func (s *session) alive() bool {
	return s != nil && s.conn != nil && !s.conn.IsClosed()
}

func (s *session) close() {
	if s.channel != nil {
		_ = s.channel.Close()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
}
