package db

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestConn(t *testing.T) *SQLiteConn {
	t.Helper()
	conn, err := OpenSQLite(":memory:", nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(conn.Close)
	if _, err := conn.Exec(context.Background(), `CREATE TABLE items (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL UNIQUE, seen_at TIMESTAMP)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	return conn
}

func TestRebind(t *testing.T) {
	got := rebind("SELECT * FROM t WHERE a = $1 AND b = $12")
	want := "SELECT * FROM t WHERE a = ?1 AND b = ?12"
	if got != want {
		t.Fatalf("rebind = %q, want %q", got, want)
	}
}

func TestSQLiteRoundTripAndSentinels(t *testing.T) {
	ctx := context.Background()
	conn := newTestConn(t)

	now := time.Now().UTC().Truncate(time.Second)
	var id int64
	if err := conn.QueryRow(ctx, `INSERT INTO items (name, seen_at) VALUES ($1, $2) RETURNING id`, "a", now).Scan(&id); err != nil {
		t.Fatalf("insert: %v", err)
	}

	var seen time.Time
	if err := conn.QueryRow(ctx, `SELECT seen_at FROM items WHERE id = $1`, id).Scan(&seen); err != nil {
		t.Fatalf("select: %v", err)
	}
	if !seen.Equal(now) {
		t.Errorf("seen_at = %v, want %v", seen, now)
	}

	_, err := conn.Exec(ctx, `INSERT INTO items (name) VALUES ($1)`, "a")
	if !errors.Is(err, ErrUniqueViolation) {
		t.Errorf("duplicate insert err = %v, want ErrUniqueViolation", err)
	}

	err = conn.QueryRow(ctx, `SELECT id FROM items WHERE name = $1`, "missing").Scan(&id)
	if !errors.Is(err, ErrNoRows) {
		t.Errorf("missing row err = %v, want ErrNoRows", err)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	conn := newTestConn(t)

	boom := errors.New("boom")
	err := WithTx(ctx, conn, func(tx Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO items (name) VALUES ($1)`, "tx"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx err = %v", err)
	}

	var n int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM items`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("rows after rollback = %d, want 0", n)
	}
}
