package repository

import (
	"context"
	"errors"
	"time"

	"mailpilot/pkg/db"
)

type SettingsRepository struct {
	q db.Querier
}

func NewSettingsRepository(q db.Querier) *SettingsRepository {
	return &SettingsRepository{q: q}
}

// Get 返回 key 对应的值，不存在时 ok=false
func (r *SettingsRepository) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	err = r.q.QueryRow(ctx, `SELECT value FROM app_settings WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(translate(err), ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (r *SettingsRepository) Set(ctx context.Context, key, value string, at time.Time) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO app_settings (key, value, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, at)
	return translate(err)
}

// SetDefault 仅在 key 不存在时写入
func (r *SettingsRepository) SetDefault(ctx context.Context, key, value string, at time.Time) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO app_settings (key, value, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO NOTHING
	`, key, value, at)
	return translate(err)
}

func (r *SettingsRepository) All(ctx context.Context) (map[string]string, error) {
	rows, err := r.q.Query(ctx, `SELECT key, value FROM app_settings`)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}
