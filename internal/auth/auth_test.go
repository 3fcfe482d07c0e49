package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"mailpilot/internal/repository"
	"mailpilot/pkg/db"
	"mailpilot/pkg/rbac"
)

func newTestService(t *testing.T) (*Service, *repository.UserRepository) {
	t.Helper()
	conn, err := db.OpenSQLite(":memory:", nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(conn.Close)
	if err := repository.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	users := repository.NewUserRepository(conn)
	return NewService(users, "test-secret", time.Hour, zap.NewNop()), users
}

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	svc, users := newTestService(t)

	u, err := svc.Register(ctx, " Alice@Example.com ", "s3cret", "Alice")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if u.Email != "alice@example.com" || u.Role != rbac.RoleUser {
		t.Fatalf("unexpected user: %+v", u)
	}
	if _, err := svc.Register(ctx, "alice@example.com", "other", ""); !errors.Is(err, ErrEmailExists) {
		t.Fatalf("expected ErrEmailExists, got %v", err)
	}

	token, _, err := svc.Login(ctx, "alice@example.com", "s3cret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	claims, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != u.ID || claims.Role != rbac.RoleUser {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	stored, err := users.FindByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored.LastLogin == nil {
		t.Fatal("last_login not stamped")
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	if _, err := svc.Register(ctx, "bob@example.com", "right", ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, _, err := svc.Login(ctx, "bob@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: %v", err)
	}
	if _, _, err := svc.Login(ctx, "nobody@example.com", "right"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email: %v", err)
	}
}

func TestParseJWTRejectsOtherSecret(t *testing.T) {
	token, err := GenerateJWT(7, rbac.RoleAdmin, "a", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseJWT(token, "b"); err == nil {
		t.Fatal("expected signature error")
	}
	c, err := ParseJWT(token, "a")
	if err != nil || c.UserID != 7 || c.Role != rbac.RoleAdmin {
		t.Fatalf("got %+v, %v", c, err)
	}
}

func TestExtractToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	if ExtractToken(r) != "" {
		t.Fatal("expected empty token")
	}
	r.Header.Set("Authorization", "Bearer abc")
	if got := ExtractToken(r); got != "abc" {
		t.Fatalf("got %q", got)
	}
	r.Header.Set("Authorization", "Basic abc")
	if ExtractToken(r) != "" {
		t.Fatal("non-bearer scheme accepted")
	}
}
