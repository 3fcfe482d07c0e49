package repository

import (
	"context"
	"time"

	"mailpilot/internal/model"
	"mailpilot/pkg/db"
)

type SummaryRepository struct {
	q db.Querier
}

func NewSummaryRepository(q db.Querier) *SummaryRepository {
	return &SummaryRepository{q: q}
}

func (r *SummaryRepository) WithTx(tx db.Tx) *SummaryRepository {
	return &SummaryRepository{q: tx}
}

const summaryColumns = `id, summary_date, snippets, content, status, audio_path, created_at, generated_at`

func (r *SummaryRepository) GetByID(ctx context.Context, id int64) (*model.DailySummary, error) {
	return scanSummary(r.q.QueryRow(ctx, `SELECT `+summaryColumns+` FROM daily_summaries WHERE id = $1`, id))
}

func (r *SummaryRepository) GetByDate(ctx context.Context, date string) (*model.DailySummary, error) {
	return scanSummary(r.q.QueryRow(ctx, `SELECT `+summaryColumns+` FROM daily_summaries WHERE summary_date = $1`, date))
}

// Ensure 保证某天的汇总行存在（status=pending）并返回它
func (r *SummaryRepository) Ensure(ctx context.Context, date string, at time.Time) (*model.DailySummary, error) {
	_, err := r.q.Exec(ctx, `
		INSERT INTO daily_summaries (summary_date, snippets, content, status, created_at)
		VALUES ($1, '[]', '', $2, $3)
		ON CONFLICT (summary_date) DO NOTHING
	`, date, string(model.SummaryPending), at)
	if err != nil {
		return nil, translate(err)
	}
	return r.GetByDate(ctx, date)
}

// AppendSnippets 将片段追加到当天的汇总，应在事务中调用
func (r *SummaryRepository) AppendSnippets(ctx context.Context, date string, snippets []model.Snippet, at time.Time) error {
	if len(snippets) == 0 {
		return nil
	}
	s, err := r.Ensure(ctx, date, at)
	if err != nil {
		return err
	}
	merged := append(s.Snippets, snippets...)
	_, err = r.q.Exec(ctx, `UPDATE daily_summaries SET snippets = $2 WHERE id = $1`, s.ID, encodeJSON(merged))
	return translate(err)
}

// ListSince 返回 summary_date >= from 的汇总，日期倒序
func (r *SummaryRepository) ListSince(ctx context.Context, from string) ([]*model.DailySummary, error) {
	rows, err := r.q.Query(ctx, `SELECT `+summaryColumns+` FROM daily_summaries
		WHERE summary_date >= $1 ORDER BY summary_date DESC`, from)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	out := []*model.DailySummary{}
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SummaryRepository) SetStatus(ctx context.Context, id int64, status model.SummaryStatus) error {
	n, err := r.q.Exec(ctx, `UPDATE daily_summaries SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return translate(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveResult 写入生成结果
func (r *SummaryRepository) SaveResult(ctx context.Context, s *model.DailySummary) error {
	_, err := r.q.Exec(ctx, `
		UPDATE daily_summaries SET content = $2, status = $3, audio_path = $4, generated_at = $5
		WHERE id = $1
	`, s.ID, s.Content, string(s.Status), s.AudioPath, s.GeneratedAt)
	return translate(err)
}

func scanSummary(row db.Row) (*model.DailySummary, error) {
	var (
		s                model.DailySummary
		snippets, status string
	)
	err := row.Scan(&s.ID, &s.Date, &snippets, &s.Content, &status, &s.AudioPath, &s.CreatedAt, &s.GeneratedAt)
	if err != nil {
		return nil, translate(err)
	}
	s.Snippets = []model.Snippet{}
	decodeJSON(snippets, &s.Snippets)
	s.Status = model.SummaryStatus(status)
	return &s, nil
}
