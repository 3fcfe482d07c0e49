package repository

import (
	"context"
	"errors"
	"time"

	"mailpilot/pkg/db"
)

// Claim kinds. A message id is claimed at most once across tasks and approvals.
const (
	ClaimTask     = "task"
	ClaimApproval = "approval"
)

// ClaimMessage must run in the same transaction as the record insert.
// It returns ErrDuplicate when the message already produced a record.
func ClaimMessage(ctx context.Context, q db.Querier, messageID, kind string, at time.Time) error {
	n, err := q.Exec(ctx, `
		INSERT INTO message_claims (message_id, kind, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (message_id) DO NOTHING
	`, messageID, kind, at)
	if err != nil {
		return translate(err)
	}
	if n == 0 {
		return ErrDuplicate
	}
	return nil
}

// IsClaimed reports whether a task or approval already exists for the message.
func IsClaimed(ctx context.Context, q db.Querier, messageID string) (bool, error) {
	var one int
	err := q.QueryRow(ctx, `SELECT 1 FROM message_claims WHERE message_id = $1`, messageID).Scan(&one)
	if err != nil {
		if errors.Is(translate(err), ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
