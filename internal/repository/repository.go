package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"mailpilot/internal/model"
	"mailpilot/pkg/db"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// DecidedError 请求已被其他决策终结
type DecidedError struct {
	Status model.ApprovalStatus
}

func (e *DecidedError) Error() string {
	return fmt.Sprintf("approval request already %s", e.Status)
}

//go:embed schema/*.sql
var schemaFS embed.FS

// Migrate 按连接方言执行建表语句，可重复执行
func Migrate(ctx context.Context, conn db.Conn) error {
	name := "schema/postgres.sql"
	if conn.Dialect() == db.SQLite {
		name = "schema/sqlite.sql"
	}
	raw, err := schemaFS.ReadFile(name)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	for _, stmt := range strings.Split(string(raw), ";\n") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, db.ErrNoRows):
		return ErrNotFound
	case errors.Is(err, db.ErrUniqueViolation):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

func encodeJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

// decodeJSON 忽略损坏的列值，保留 out 的零值
func decodeJSON(raw string, out any) {
	if raw == "" {
		return
	}
	_ = json.Unmarshal([]byte(raw), out)
}

// placeholders 生成 $from..$from+n-1
func placeholders(from, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(parts, ", ")
}
