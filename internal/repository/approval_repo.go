package repository

import (
	"context"
	"time"

	"mailpilot/internal/model"
	"mailpilot/pkg/db"
)

type ApprovalRepository struct {
	q db.Querier
}

func NewApprovalRepository(q db.Querier) *ApprovalRepository {
	return &ApprovalRepository{q: q}
}

func (r *ApprovalRepository) WithTx(tx db.Tx) *ApprovalRepository {
	return &ApprovalRepository{q: tx}
}

const approvalColumns = `id, email_message_id, item_id, item_change_key, subject, sender, sender_email,
	request_type, summary, details_5w1h, risk_level, ai_recommendation, confidence_score,
	impact_analysis, conflict_flag, status, human_notes, human_action_at, received_at, created_at`

// Create claims the message id and inserts the request.
func (r *ApprovalRepository) Create(ctx context.Context, a *model.ApprovalRequest) error {
	if err := ClaimMessage(ctx, r.q, a.MessageID, ClaimApproval, a.CreatedAt); err != nil {
		return err
	}
	err := r.q.QueryRow(ctx, `
		INSERT INTO approval_requests (email_message_id, item_id, item_change_key, subject, sender, sender_email,
			request_type, summary, details_5w1h, risk_level, ai_recommendation, confidence_score,
			impact_analysis, conflict_flag, status, received_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id
	`, a.MessageID, a.Item.ID, a.Item.ChangeKey, a.Subject, a.Sender, a.SenderEmail,
		a.RequestType, a.Summary, encodeJSON(a.Details), string(a.RiskLevel), string(a.Recommendation), a.Confidence,
		a.ImpactAnalysis, a.ConflictFlag, string(a.Status), a.ReceivedAt, a.CreatedAt,
	).Scan(&a.ID)
	return translate(err)
}

func (r *ApprovalRepository) GetByID(ctx context.Context, id int64) (*model.ApprovalRequest, error) {
	return scanApproval(r.q.QueryRow(ctx, `SELECT `+approvalColumns+` FROM approval_requests WHERE id = $1`, id))
}

func (r *ApprovalRepository) GetByMessageID(ctx context.Context, messageID string) (*model.ApprovalRequest, error) {
	return scanApproval(r.q.QueryRow(ctx, `SELECT `+approvalColumns+` FROM approval_requests WHERE email_message_id = $1`, messageID))
}

// RecordDecision 写入人工决策，只对 Pending 状态生效。
// 已被决策时返回 *DecidedError，记录不存在时返回 ErrNotFound。
func (r *ApprovalRepository) RecordDecision(ctx context.Context, id int64, status model.ApprovalStatus, notes string, at time.Time) error {
	n, err := r.q.Exec(ctx, `
		UPDATE approval_requests SET status = $2, human_notes = $3, human_action_at = $4
		WHERE id = $1 AND status = $5
	`, id, string(status), notes, at, string(model.ApprovalPending))
	if err != nil {
		return translate(err)
	}
	if n > 0 {
		return nil
	}
	var current string
	if err := r.q.QueryRow(ctx, `SELECT status FROM approval_requests WHERE id = $1`, id).Scan(&current); err != nil {
		return translate(err)
	}
	return &DecidedError{Status: model.ApprovalStatus(current)}
}

// Delete removes the request; audit rows go with it through the foreign key,
// and are deleted explicitly as well for stores without cascade support.
func (r *ApprovalRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM approval_audit_logs WHERE approval_id = $1`, id); err != nil {
		return translate(err)
	}
	n, err := r.q.Exec(ctx, `DELETE FROM approval_requests WHERE id = $1`, id)
	if err != nil {
		return translate(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ApprovalRepository) CountByStatus(ctx context.Context, status model.ApprovalStatus) (int, error) {
	var n int
	err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM approval_requests WHERE status = $1`, string(status)).Scan(&n)
	return n, translate(err)
}

// ListPending 按风险高到低、再按接收时间倒序
func (r *ApprovalRepository) ListPending(ctx context.Context) ([]*model.ApprovalRequest, error) {
	return r.query(ctx, `SELECT `+approvalColumns+` FROM approval_requests
		WHERE status = $1
		ORDER BY CASE risk_level WHEN 'High' THEN 3 WHEN 'Medium' THEN 2 WHEN 'Low' THEN 1 ELSE 0 END DESC,
			received_at DESC, id DESC`, string(model.ApprovalPending))
}

// ListDecided 返回已处理的请求，最近处理的在前
func (r *ApprovalRepository) ListDecided(ctx context.Context, limit int) ([]*model.ApprovalRequest, error) {
	return r.query(ctx, `SELECT `+approvalColumns+` FROM approval_requests
		WHERE status <> $1
		ORDER BY human_action_at DESC, id DESC
		LIMIT $2`, string(model.ApprovalPending), limit)
}

func (r *ApprovalRepository) AppendAudit(ctx context.Context, l *model.AuditLog) error {
	if l.Metadata == nil {
		l.Metadata = map[string]any{}
	}
	err := r.q.QueryRow(ctx, `
		INSERT INTO approval_audit_logs (approval_id, action, metadata, logged_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, l.ApprovalID, l.Action, encodeJSON(l.Metadata), l.Timestamp).Scan(&l.ID)
	return translate(err)
}

// ListAudit 按时间正序
func (r *ApprovalRepository) ListAudit(ctx context.Context, approvalID int64) ([]*model.AuditLog, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, approval_id, action, metadata, logged_at
		FROM approval_audit_logs
		WHERE approval_id = $1
		ORDER BY logged_at ASC, id ASC
	`, approvalID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	logs := []*model.AuditLog{}
	for rows.Next() {
		var (
			l    model.AuditLog
			meta string
		)
		if err := rows.Scan(&l.ID, &l.ApprovalID, &l.Action, &meta, &l.Timestamp); err != nil {
			return nil, err
		}
		decodeJSON(meta, &l.Metadata)
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

func (r *ApprovalRepository) query(ctx context.Context, query string, args ...any) ([]*model.ApprovalRequest, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	out := []*model.ApprovalRequest{}
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanApproval(row db.Row) (*model.ApprovalRequest, error) {
	var (
		a                          model.ApprovalRequest
		details, risk, rec, status string
	)
	err := row.Scan(
		&a.ID, &a.MessageID, &a.Item.ID, &a.Item.ChangeKey, &a.Subject, &a.Sender, &a.SenderEmail,
		&a.RequestType, &a.Summary, &details, &risk, &rec, &a.Confidence,
		&a.ImpactAnalysis, &a.ConflictFlag, &status, &a.HumanNotes, &a.HumanActionAt, &a.ReceivedAt, &a.CreatedAt,
	)
	if err != nil {
		return nil, translate(err)
	}
	decodeJSON(details, &a.Details)
	a.RiskLevel = model.RiskLevel(risk)
	a.Recommendation = model.Recommendation(rec)
	a.Status = model.ApprovalStatus(status)
	return &a, nil
}
