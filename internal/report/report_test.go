package report

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"mailpilot/internal/llm/llmtest"
	"mailpilot/internal/model"
	"mailpilot/internal/repository"
	"mailpilot/pkg/db"
)

type fixedModel string

func (m fixedModel) Model(context.Context) string { return string(m) }

var gst = time.FixedZone("GST", 4*3600)

func newTestService(t *testing.T, gen *llmtest.Scripted) (*Service, *repository.TaskRepository) {
	t.Helper()
	conn, err := db.OpenSQLite(":memory:", nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(conn.Close)
	if err := repository.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewService(conn, gen, fixedModel("smart"), 4, gst, zap.NewNop()), repository.NewTaskRepository(conn)
}

func addTask(t *testing.T, repo *repository.TaskRepository, id string, status model.TaskStatus, received time.Time, closed *time.Time) {
	t.Helper()
	ctx := context.Background()
	task := &model.Task{
		MessageID:      id,
		Subject:        id,
		Status:         model.TaskNew,
		TriageCategory: model.BucketQuickAction,
		Priority:       model.PriorityMedium,
		ReceivedAt:     received,
		CreatedAt:      received,
	}
	if err := repo.Create(ctx, task); err != nil {
		t.Fatalf("create %s: %v", id, err)
	}
	task.Status = status
	task.ClosedAt = closed
	if err := repo.Save(ctx, task); err != nil {
		t.Fatalf("save %s: %v", id, err)
	}
}

func at(day, hour int) time.Time {
	return time.Date(2026, 3, day, hour, 0, 0, 0, gst)
}

func ptr(t time.Time) *time.Time { return &t }

func TestWeeklyStatsAndSLA(t *testing.T) {
	svc, repo := newTestService(t, &llmtest.Scripted{})
	addTask(t, repo, "<fast>", model.TaskClosed, at(2, 9), ptr(at(3, 9)))
	addTask(t, repo, "<slow>", model.TaskArchived, at(1, 9), ptr(at(8, 9)))
	addTask(t, repo, "<outside>", model.TaskClosed, at(1, 9), ptr(at(20, 9)))
	addTask(t, repo, "<open>", model.TaskInProgress, at(4, 9), nil)
	addTask(t, repo, "<paused>", model.TaskPaused, at(5, 9), nil)

	w, err := svc.Weekly(context.Background(), "2026-03-02", "2026-03-08")
	if err != nil {
		t.Fatalf("weekly: %v", err)
	}
	if len(w.Achievements) != 2 {
		t.Fatalf("achievements: %d", len(w.Achievements))
	}
	got := map[string]string{}
	for _, a := range w.Achievements {
		got[a.MessageID] = a.SLAStatus
	}
	if got["<fast>"] != SLAOnTime || got["<slow>"] != SLAOverdue {
		t.Fatalf("sla: %v", got)
	}
	if len(w.Planned) != 2 {
		t.Fatalf("planned: %d", len(w.Planned))
	}
	want := Stats{Received: 3, Completed: 2, OnTime: 1, Overdue: 1, SLACompliance: 50}
	if w.Stats != want {
		t.Fatalf("stats %+v, want %+v", w.Stats, want)
	}
}

func TestSLAStatusBoundary(t *testing.T) {
	received := at(1, 9)
	cases := []struct {
		name   string
		closed *time.Time
		want   string
	}{
		{"exactly four days", ptr(received.Add(96 * time.Hour)), SLAOnTime},
		{"one minute late", ptr(received.Add(96*time.Hour + time.Minute)), SLAOverdue},
		{"never closed", nil, SLAUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			task := &model.Task{ReceivedAt: received, ClosedAt: tc.closed}
			if got := SLAStatus(task, 4); got != tc.want {
				t.Fatalf("got %s, want %s", got, tc.want)
			}
		})
	}
	if SLAStatus(&model.Task{ClosedAt: ptr(received)}, 4) != SLAUnknown {
		t.Fatal("missing received_at should be Unknown")
	}
}

func TestWeeklyRejectsBadRange(t *testing.T) {
	svc, _ := newTestService(t, &llmtest.Scripted{})
	if _, err := svc.Weekly(context.Background(), "2026-03-08", "2026-03-02"); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("reversed range: %v", err)
	}
	if _, err := svc.Weekly(context.Background(), "March", "2026-03-02"); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("bad date: %v", err)
	}
}

func TestConsolidated(t *testing.T) {
	gen := &llmtest.Scripted{Default: llmtest.Text("<h2>Scorecard</h2>")}
	svc, repo := newTestService(t, gen)
	addTask(t, repo, "<fast>", model.TaskClosed, at(2, 9), ptr(at(3, 9)))

	out, err := svc.Consolidated(context.Background(), "2026-03-02", "2026-03-08")
	if err != nil {
		t.Fatalf("consolidated: %v", err)
	}
	if !out.Generated || out.Content != "<h2>Scorecard</h2>" {
		t.Fatalf("unexpected report: %+v", out)
	}
	if gen.Calls(`"sla_status": "On Time"`) != 1 {
		t.Fatalf("report data not sent to model: %s", gen.Requests[0].Prompt)
	}

	gen.Default = llmtest.Fail()
	out, err = svc.Consolidated(context.Background(), "2026-03-02", "2026-03-08")
	if err != nil {
		t.Fatalf("consolidated: %v", err)
	}
	if out.Generated || out.Content != FallbackContent {
		t.Fatalf("fallback not used: %+v", out)
	}
}
