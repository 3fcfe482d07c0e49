package repository

import (
	"context"
	"strings"
	"time"

	"mailpilot/internal/model"
	"mailpilot/pkg/db"
)

type UserRepository struct {
	q db.Querier
}

func NewUserRepository(q db.Querier) *UserRepository {
	return &UserRepository{q: q}
}

const userColumns = `id, email, full_name, password_hash, role, mailbox_token, last_login, created_at`

// CreateUser inserts a new user.
func (r *UserRepository) CreateUser(ctx context.Context, u *model.User) error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	err := r.q.QueryRow(ctx, `
		INSERT INTO users (email, full_name, password_hash, role, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, u.Email, u.FullName, u.PasswordHash, u.Role, u.CreatedAt).Scan(&u.ID)
	return translate(err)
}

// FindByEmail returns user by email.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return scanUser(r.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`,
		strings.ToLower(strings.TrimSpace(email))))
}

func (r *UserRepository) FindByID(ctx context.Context, id int64) (*model.User, error) {
	return scanUser(r.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (r *UserRepository) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	_, err := r.q.Exec(ctx, `UPDATE users SET last_login = $2 WHERE id = $1`, id, at)
	return translate(err)
}

func (r *UserRepository) UpdateMailboxToken(ctx context.Context, id int64, token string) error {
	n, err := r.q.Exec(ctx, `UPDATE users SET mailbox_token = $2 WHERE id = $1`, id, token)
	if err != nil {
		return translate(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanUser(row db.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.PasswordHash, &u.Role, &u.MailboxToken, &u.LastLogin, &u.CreatedAt)
	if err != nil {
		return nil, translate(err)
	}
	return &u, nil
}
