package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"mailpilot/pkg/config"
)

// PGConn 基于 pgxpool 的 Conn 实现
type PGConn struct {
	pool *pgxpool.Pool
}

func NewConnection(cfg config.DBConfig, logger *zap.Logger) (*PGConn, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Name,
		sslMode,
	)

	logger.Info("Initializing PostgreSQL connection pool",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("db", cfg.Name),
	)

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		logger.Error("Failed to parse db config", zap.Error(err))
		return nil, fmt.Errorf("failed to parse db config: %w", err)
	}

	poolCfg.MaxConns = 10
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MinConns = 2
	poolCfg.MaxConnIdleTime = time.Minute
	poolCfg.ConnConfig.Tracer = NewSlowQueryTracer(logger, cfg.SlowQuery)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dbpool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer pingCancel()

	if err := dbpool.Ping(pingCtx); err != nil {
		dbpool.Close()
		return nil, fmt.Errorf("failed to ping: %w", err)
	}

	logger.Info("PostgreSQL connection established successfully")
	return &PGConn{pool: dbpool}, nil
}

func (c *PGConn) Dialect() Dialect { return Postgres }

func (c *PGConn) Close() { c.pool.Close() }

func (c *PGConn) Ping(ctx context.Context) error { return c.pool.Ping(ctx) }

func (c *PGConn) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	return pgExec(ctx, c.pool, sql, args...)
}

func (c *PGConn) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	rows, err := c.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, translatePG(err)
	}
	return rows, nil
}

func (c *PGConn) QueryRow(ctx context.Context, sql string, args ...any) Row {
	return pgRow{row: c.pool.QueryRow(ctx, sql, args...)}
}

func (c *PGConn) Begin(ctx context.Context) (Tx, error) {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx}, nil
}

type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func pgExec(ctx context.Context, e pgExecer, sql string, args ...any) (int64, error) {
	tag, err := e.Exec(ctx, sql, args...)
	if err != nil {
		return 0, translatePG(err)
	}
	return tag.RowsAffected(), nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	return pgExec(ctx, t.tx, sql, args...)
}

func (t *pgTx) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, translatePG(err)
	}
	return rows, nil
}

func (t *pgTx) QueryRow(ctx context.Context, sql string, args ...any) Row {
	return pgRow{row: t.tx.QueryRow(ctx, sql, args...)}
}

func (t *pgTx) Commit(ctx context.Context) error   { return translatePG(t.tx.Commit(ctx)) }
func (t *pgTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

type pgRow struct {
	row pgx.Row
}

func (r pgRow) Scan(dest ...any) error {
	return translatePG(r.row.Scan(dest...))
}

// translatePG 把 pgx 的错误映射为包内的哨兵错误，保留原始错误链
func translatePG(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNoRows
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrUniqueViolation, pgErr.ConstraintName)
	}
	return err
}
