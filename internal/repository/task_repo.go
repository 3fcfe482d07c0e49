package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mailpilot/internal/model"
	"mailpilot/pkg/db"
)

type TaskRepository struct {
	q db.Querier
}

func NewTaskRepository(q db.Querier) *TaskRepository {
	return &TaskRepository{q: q}
}

// WithTx 返回绑定到事务的副本
func (r *TaskRepository) WithTx(tx db.Tx) *TaskRepository {
	return &TaskRepository{q: tx}
}

const taskColumns = `id, email_message_id, subject, sender, sender_email, status, triage_category,
	task_summary, task_detail, required_action, reply_acknowledge, reply_done, reply_delegate,
	priority, project, tags, domain_hint, effort_estimate_hours, business_impact,
	delegated_to, delegated_at, action_taken, completion_evidence, auto_completed_at, closed_at,
	to_recipients, cc_recipients, item_id, item_change_key, received_at, created_at, status_updated_at`

// Create claims the message id and inserts the task. Call it inside a
// transaction so both rows commit together.
func (r *TaskRepository) Create(ctx context.Context, t *model.Task) error {
	if err := ClaimMessage(ctx, r.q, t.MessageID, ClaimTask, t.CreatedAt); err != nil {
		return err
	}
	query := `
		INSERT INTO tasks (email_message_id, subject, sender, sender_email, status, triage_category,
			task_summary, task_detail, required_action, reply_acknowledge, reply_done, reply_delegate,
			priority, project, tags, domain_hint, effort_estimate_hours, business_impact,
			to_recipients, cc_recipients, item_id, item_change_key, received_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
		RETURNING id
	`
	err := r.q.QueryRow(ctx, query,
		t.MessageID, t.Subject, t.Sender, t.SenderEmail, string(t.Status), string(t.TriageCategory),
		t.Summary, t.Detail, t.RequiredAction, t.ReplyAcknowledge, t.ReplyDone, t.ReplyDelegate,
		string(t.Priority), t.Project, encodeJSON(nonNil(t.Tags)), t.DomainHint, t.EffortHours, t.BusinessImpact,
		encodeJSON(nonNil(t.ToRecipients)), encodeJSON(nonNil(t.CcRecipients)), t.Item.ID, t.Item.ChangeKey,
		t.ReceivedAt, t.CreatedAt,
	).Scan(&t.ID)
	return translate(err)
}

func (r *TaskRepository) GetByID(ctx context.Context, id int64) (*model.Task, error) {
	row := r.q.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	return scanTask(row)
}

func (r *TaskRepository) GetByMessageID(ctx context.Context, messageID string) (*model.Task, error) {
	row := r.q.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE email_message_id = $1`, messageID)
	return scanTask(row)
}

// TaskFilter 空字段表示不过滤
type TaskFilter struct {
	Statuses    []model.TaskStatus
	SenderEmail string
	Search      string
	Limit       int
}

// List 按 received_at 倒序返回任务
func (r *TaskRepository) List(ctx context.Context, f TaskFilter) ([]*model.Task, error) {
	var (
		where []string
		args  []any
	)
	if len(f.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(args)+1, len(f.Statuses))+")")
		for _, s := range f.Statuses {
			args = append(args, string(s))
		}
	}
	if f.SenderEmail != "" {
		args = append(args, strings.ToLower(f.SenderEmail))
		where = append(where, fmt.Sprintf("LOWER(sender_email) = $%d", len(args)))
	}
	if f.Search != "" {
		args = append(args, "%"+strings.ToLower(f.Search)+"%")
		n := len(args)
		where = append(where, fmt.Sprintf("(LOWER(task_summary) LIKE $%d OR LOWER(sender) LIKE $%d OR LOWER(subject) LIKE $%d)", n, n, n))
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY received_at DESC, id DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return r.queryTasks(ctx, query, args...)
}

// FindOpenByMessageIDs 返回 new / in_progress 状态且 message id 命中的任务
func (r *TaskRepository) FindOpenByMessageIDs(ctx context.Context, messageIDs []string) (map[string]*model.Task, error) {
	out := make(map[string]*model.Task)
	if len(messageIDs) == 0 {
		return out, nil
	}
	args := []any{string(model.TaskNew), string(model.TaskInProgress)}
	for _, id := range messageIDs {
		args = append(args, id)
	}
	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE status IN ($1, $2) AND email_message_id IN (` + placeholders(3, len(messageIDs)) + `)`
	tasks, err := r.queryTasks(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		out[t.MessageID] = t
	}
	return out, nil
}

// ClosedBetween 返回 closed_at 落在 [from, to) 的已关闭或已归档任务
func (r *TaskRepository) ClosedBetween(ctx context.Context, from, to time.Time) ([]*model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE status IN ($1, $2) AND closed_at >= $3 AND closed_at < $4
		ORDER BY closed_at ASC`
	return r.queryTasks(ctx, query, string(model.TaskClosed), string(model.TaskArchived), from, to)
}

func (r *TaskRepository) CountReceivedBetween(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM tasks WHERE received_at >= $1 AND received_at < $2`, from, to).Scan(&n)
	return n, translate(err)
}

// Save 写回任务的可变字段
func (r *TaskRepository) Save(ctx context.Context, t *model.Task) error {
	n, err := r.q.Exec(ctx, `
		UPDATE tasks SET
			status = $2, triage_category = $3, task_summary = $4, task_detail = $5,
			priority = $6, project = $7, tags = $8, delegated_to = $9, delegated_at = $10,
			action_taken = $11, completion_evidence = $12, auto_completed_at = $13,
			closed_at = $14, status_updated_at = $15
		WHERE id = $1
	`, t.ID, string(t.Status), string(t.TriageCategory), t.Summary, t.Detail,
		string(t.Priority), t.Project, encodeJSON(nonNil(t.Tags)), t.DelegatedTo, t.DelegatedAt,
		t.ActionTaken, t.CompletionEvidence, t.AutoCompletedAt,
		t.ClosedAt, t.StatusUpdatedAt)
	if err != nil {
		return translate(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *TaskRepository) Delete(ctx context.Context, id int64) error {
	n, err := r.q.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return translate(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ArchiveClosedBefore 将关闭时间（缺失时用创建时间）早于 cutoff 的任务归档
func (r *TaskRepository) ArchiveClosedBefore(ctx context.Context, cutoff, now time.Time) (int64, error) {
	n, err := r.q.Exec(ctx, `
		UPDATE tasks SET status = $1, status_updated_at = $2
		WHERE status = $3 AND COALESCE(closed_at, created_at) < $4
	`, string(model.TaskArchived), now, string(model.TaskClosed), cutoff)
	return n, translate(err)
}

func (r *TaskRepository) queryTasks(ctx context.Context, query string, args ...any) ([]*model.Task, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var tasks []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func scanTask(row db.Row) (*model.Task, error) {
	var (
		t                        model.Task
		status, bucket, priority string
		tags, toRcpt, ccRcpt     string
	)
	err := row.Scan(
		&t.ID, &t.MessageID, &t.Subject, &t.Sender, &t.SenderEmail, &status, &bucket,
		&t.Summary, &t.Detail, &t.RequiredAction, &t.ReplyAcknowledge, &t.ReplyDone, &t.ReplyDelegate,
		&priority, &t.Project, &tags, &t.DomainHint, &t.EffortHours, &t.BusinessImpact,
		&t.DelegatedTo, &t.DelegatedAt, &t.ActionTaken, &t.CompletionEvidence, &t.AutoCompletedAt, &t.ClosedAt,
		&toRcpt, &ccRcpt, &t.Item.ID, &t.Item.ChangeKey, &t.ReceivedAt, &t.CreatedAt, &t.StatusUpdatedAt,
	)
	if err != nil {
		return nil, translate(err)
	}
	t.Status = model.TaskStatus(status)
	t.TriageCategory = model.TriageBucket(bucket)
	t.Priority = model.Priority(priority)
	decodeJSON(tags, &t.Tags)
	decodeJSON(toRcpt, &t.ToRecipients)
	decodeJSON(ccRcpt, &t.CcRecipients)
	return &t, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
