package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteConn 基于 modernc.org/sqlite 的 Conn 实现，用于单机模式与测试
type SQLiteConn struct {
	db     *sql.DB
	tracer *SlowQueryTracer
}

// OpenSQLite 打开（或创建）一个 SQLite 数据库；path 为 ":memory:" 时使用内存库
func OpenSQLite(path string, logger *zap.Logger) (*SQLiteConn, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// 单连接：内存库每个连接都是独立的数据库，文件库也避免 SQLITE_BUSY
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLiteConn{db: db, tracer: NewSlowQueryTracer(logger, 0)}, nil
}

func (c *SQLiteConn) Dialect() Dialect { return SQLite }

func (c *SQLiteConn) Close() { _ = c.db.Close() }

func (c *SQLiteConn) Ping(ctx context.Context) error { return c.db.PingContext(ctx) }

func (c *SQLiteConn) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return sqliteExec(ctx, c.db, c.tracer, query, args...)
}

func (c *SQLiteConn) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	return sqliteQuery(ctx, c.db, c.tracer, query, args...)
}

func (c *SQLiteConn) QueryRow(ctx context.Context, query string, args ...any) Row {
	return sqliteRow{row: c.db.QueryRowContext(ctx, rebind(query), utcArgs(args)...)}
}

func (c *SQLiteConn) Begin(ctx context.Context) (Tx, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, tracer: c.tracer}, nil
}

type sqlRunner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func sqliteExec(ctx context.Context, r sqlRunner, tracer *SlowQueryTracer, query string, args ...any) (int64, error) {
	start := time.Now()
	res, err := r.ExecContext(ctx, rebind(query), utcArgs(args)...)
	tracer.Observe(query, time.Since(start), "exec")
	if err != nil {
		return 0, translateSQLite(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

func sqliteQuery(ctx context.Context, r sqlRunner, tracer *SlowQueryTracer, query string, args ...any) (Rows, error) {
	start := time.Now()
	rows, err := r.QueryContext(ctx, rebind(query), utcArgs(args)...)
	tracer.Observe(query, time.Since(start), "query")
	if err != nil {
		return nil, translateSQLite(err)
	}
	return sqliteRows{rows: rows}, nil
}

type sqliteTx struct {
	tx     *sql.Tx
	tracer *SlowQueryTracer
}

func (t *sqliteTx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return sqliteExec(ctx, t.tx, t.tracer, query, args...)
}

func (t *sqliteTx) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	return sqliteQuery(ctx, t.tx, t.tracer, query, args...)
}

func (t *sqliteTx) QueryRow(ctx context.Context, query string, args ...any) Row {
	return sqliteRow{row: t.tx.QueryRowContext(ctx, rebind(query), utcArgs(args)...)}
}

func (t *sqliteTx) Commit(context.Context) error { return translateSQLite(t.tx.Commit()) }

func (t *sqliteTx) Rollback(context.Context) error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

type sqliteRows struct {
	rows *sql.Rows
}

func (r sqliteRows) Next() bool             { return r.rows.Next() }
func (r sqliteRows) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r sqliteRows) Err() error             { return r.rows.Err() }
func (r sqliteRows) Close()                 { _ = r.rows.Close() }

type sqliteRow struct {
	row *sql.Row
}

func (r sqliteRow) Scan(dest ...any) error {
	return translateSQLite(r.row.Scan(dest...))
}

var pgPlaceholder = regexp.MustCompile(`\$(\d+)`)

// rebind 把 $N 占位符改写为 SQLite 的 ?N
func rebind(query string) string {
	return pgPlaceholder.ReplaceAllString(query, "?$1")
}

// utcArgs 时间参数统一转为 UTC，保证按文本比较的时间列顺序正确
func utcArgs(args []any) []any {
	for i, a := range args {
		switch v := a.(type) {
		case time.Time:
			args[i] = v.UTC()
		case *time.Time:
			if v != nil {
				args[i] = v.UTC()
			}
		}
	}
	return args
}

func translateSQLite(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNoRows
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %v", ErrUniqueViolation, err)
	}
	return err
}
