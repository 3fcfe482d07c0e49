package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mailpilot/pkg/db"
	"mailpilot/pkg/trace"
)

const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

var ErrEventNotFound = errors.New("outbox event not found")

// Event 表示一个待发布的事件
type Event struct {
	ID            int64
	AggregateType string
	AggregateID   int64
	RoutingKey    string
	Payload       json.RawMessage
	Status        string
	RetryCount    int
	NextRetryAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Publisher 由 mq.Publisher 或进程内队列实现
type Publisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
}

// Repository 提供 Outbox 操作的接口
type Repository struct {
	db  db.Conn
	now func() time.Time
}

// NewRepository 创建新的 Outbox Repository
func NewRepository(conn db.Conn) *Repository {
	return &Repository{db: conn, now: func() time.Time { return time.Now().UTC() }}
}

// Enqueue 在业务事务中写入事件，保证与业务数据的一致性；
// payload 中缺少 trace_id 时从 ctx 补齐，供 Dispatcher 透传
func (r *Repository) Enqueue(ctx context.Context, tx db.Tx, aggregateType string, aggregateID int64, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}

	event := &Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		RoutingKey:    routingKey,
		Payload:       withTraceID(ctx, body),
		Status:        StatusPending,
	}
	return r.InsertEvent(ctx, tx, event)
}

// InsertEvent 必须在事务中调用
func (r *Repository) InsertEvent(ctx context.Context, tx db.Tx, event *Event) error {
	now := r.now()
	query := `
		INSERT INTO outbox_events (aggregate_type, aggregate_id, routing_key, payload, status, retry_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $6)
		RETURNING id
	`
	if err := tx.QueryRow(ctx, query,
		event.AggregateType,
		event.AggregateID,
		event.RoutingKey,
		string(event.Payload),
		event.Status,
		now,
	).Scan(&event.ID); err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	event.CreatedAt, event.UpdatedAt = now, now
	return nil
}

const eventColumns = `id, aggregate_type, aggregate_id, routing_key, payload, status,
		       retry_count, next_retry_at, created_at, updated_at`

// GetPendingEvents 获取待发送的事件（用于 Dispatcher）
func (r *Repository) GetPendingEvents(ctx context.Context, limit int) ([]*Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM outbox_events
		WHERE status = 'pending'
		AND (next_retry_at IS NULL OR next_retry_at <= $1)
		ORDER BY id ASC
		LIMIT $2
	`
	return r.queryEvents(ctx, query, r.now(), limit)
}

// GetFailedEvents 获取所有失败的事件（用于管理界面）
func (r *Repository) GetFailedEvents(ctx context.Context, limit int) ([]*Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM outbox_events
		WHERE status = 'failed'
		ORDER BY id DESC
		LIMIT $1
	`
	return r.queryEvents(ctx, query, limit)
}

func (r *Repository) queryEvents(ctx context.Context, query string, args ...any) ([]*Event, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func scanEvent(row db.Row) (*Event, error) {
	var (
		e       Event
		payload string
	)
	if err := row.Scan(
		&e.ID,
		&e.AggregateType,
		&e.AggregateID,
		&e.RoutingKey,
		&payload,
		&e.Status,
		&e.RetryCount,
		&e.NextRetryAt,
		&e.CreatedAt,
		&e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	e.Payload = json.RawMessage(payload)
	return &e, nil
}

// MarkAsSent 标记事件为已发送
func (r *Repository) MarkAsSent(ctx context.Context, eventID int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE outbox_events
		SET status = 'sent', updated_at = $2
		WHERE id = $1
	`, eventID, r.now())
	if err != nil {
		return fmt.Errorf("failed to mark event as sent: %w", err)
	}
	return nil
}

// MarkAsFailed 增加重试次数并设置下次重试时间，超过 maxRetries 后置为 failed
func (r *Repository) MarkAsFailed(ctx context.Context, eventID int64, maxRetries int) error {
	var retryCount int
	if err := r.db.QueryRow(ctx, `SELECT retry_count FROM outbox_events WHERE id = $1`, eventID).Scan(&retryCount); err != nil {
		return fmt.Errorf("failed to get retry count: %w", err)
	}
	retryCount++

	status := StatusPending
	var nextRetryAt *time.Time
	if retryCount >= maxRetries {
		status = StatusFailed
	} else {
		next := r.now().Add(time.Duration(retryCount) * 5 * time.Second) // 线性退避：5s, 10s, 15s...
		nextRetryAt = &next
	}

	_, err := r.db.Exec(ctx, `
		UPDATE outbox_events
		SET status = $1, retry_count = $2, next_retry_at = $3, updated_at = $4
		WHERE id = $5
	`, status, retryCount, nextRetryAt, r.now(), eventID)
	if err != nil {
		return fmt.Errorf("failed to mark event as failed: %w", err)
	}
	return nil
}

// GetEventByID 根据 ID 获取事件（用于 Replay）
func (r *Repository) GetEventByID(ctx context.Context, eventID int64) (*Event, error) {
	e, err := scanEvent(r.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM outbox_events WHERE id = $1`, eventID))
	if errors.Is(err, db.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrEventNotFound, eventID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return e, nil
}

// ResetEvent 将状态重置为 pending，下一轮 Dispatcher 会重新发送
func (r *Repository) ResetEvent(ctx context.Context, eventID int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE outbox_events
		SET status = 'pending', retry_count = 0, next_retry_at = NULL, updated_at = $2
		WHERE id = $1
	`, eventID, r.now())
	if err != nil {
		return fmt.Errorf("failed to reset event: %w", err)
	}
	return nil
}

func withTraceID(ctx context.Context, body []byte) json.RawMessage {
	traceID := trace.FromContext(ctx)
	if traceID == "" {
		return body
	}
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil || m == nil {
		return body
	}
	if _, ok := m["trace_id"]; ok {
		return body
	}
	m["trace_id"] = traceID
	out, err := json.Marshal(m)
	if err != nil {
		return body
	}
	return out
}

// contextFromPayload 从 payload 中提取 trace_id（如果存在）
func contextFromPayload(ctx context.Context, payload json.RawMessage) context.Context {
	var m struct {
		TraceID string `json:"trace_id"`
	}
	if err := json.Unmarshal(payload, &m); err == nil && m.TraceID != "" {
		return trace.WithContext(ctx, m.TraceID)
	}
	return ctx
}
