package settings

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"mailpilot/internal/model"
	"mailpilot/internal/repository"
	"mailpilot/pkg/db"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	conn, err := db.OpenSQLite(":memory:", nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(conn.Close)
	if err := repository.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewService(repository.NewSettingsRepository(conn), "llama3", zap.NewNop())
}

func TestDefaultsOnMiss(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	if s.Model(ctx) != "llama3" {
		t.Errorf("model = %q", s.Model(ctx))
	}
	tax := s.Taxonomy(ctx)
	if len(tax.Projects) != len(DefaultProjects) || len(tax.Tags) != len(DefaultTags) {
		t.Errorf("taxonomy defaults not applied: %+v", tax)
	}
}

func TestInvalidListFallsBack(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	_ = s.Set(ctx, model.SettingTags, `{"not":"a list"}`)
	if got := s.List(ctx, model.SettingTags, DefaultTags); len(got) != len(DefaultTags) {
		t.Errorf("got %v", got)
	}
}

func TestApplyAndSnapshot(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	m := "qwen2"
	if err := s.Apply(ctx, Update{Model: &m, Projects: []string{"Apollo"}}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Model != "qwen2" || len(snap.Projects) != 1 || snap.Projects[0] != "Apollo" {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	if len(snap.Domains) != len(DefaultDomains) {
		t.Errorf("domains default missing: %v", snap.Domains)
	}
}

func TestLastSyncRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	if _, ok := s.LastSync(ctx); ok {
		t.Fatal("unexpected watermark")
	}
	at := time.Date(2025, 3, 10, 12, 0, 0, 0, time.FixedZone("GST", 4*3600))
	if err := s.SaveLastSync(ctx, at); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok := s.LastSync(ctx)
	if !ok || !got.Equal(at) {
		t.Errorf("LastSync = %v %v", got, ok)
	}
}
