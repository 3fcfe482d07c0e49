package completion

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"mailpilot/internal/mailbox"
	"mailpilot/internal/mailbox/mailboxtest"
	"mailpilot/internal/model"
	"mailpilot/internal/repository"
	"mailpilot/pkg/db"
	"mailpilot/pkg/outbox"
)

var (
	day    = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	window = mailbox.Window{Start: day, End: day.Add(24 * time.Hour)}
)

func newTestScanner(t *testing.T) (*Scanner, *repository.TaskRepository, db.Conn) {
	t.Helper()
	conn, err := db.OpenSQLite(":memory:", nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(conn.Close)
	if err := repository.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewScanner(conn, outbox.NewRepository(conn), 50, time.UTC, zap.NewNop()), repository.NewTaskRepository(conn), conn
}

func seed(t *testing.T, repo *repository.TaskRepository, messageID string, status model.TaskStatus) *model.Task {
	t.Helper()
	task := &model.Task{
		MessageID:  messageID,
		Subject:    "subject",
		Status:     status,
		ReceivedAt: day,
		CreatedAt:  day,
	}
	if err := repo.Create(context.Background(), task); err != nil {
		t.Fatalf("create: %v", err)
	}
	return task
}

func sentReply(id, inReplyTo, body string) mailbox.Message {
	at := day.Add(10*time.Hour + 15*time.Minute)
	return mailbox.Message{ID: id, InReplyTo: inReplyTo, Subject: "RE: subject", Body: body, ReceivedAt: at, SentAt: at}
}

func TestScanClosesAnsweredTask(t *testing.T) {
	ctx := context.Background()
	s, repo, conn := newTestScanner(t)
	task := seed(t, repo, "<t1@x>", model.TaskInProgress)
	untouched := seed(t, repo, "<t2@x>", model.TaskNew)

	mb := mailboxtest.New("me@example.com")
	mb.Sent = []mailbox.Message{
		sentReply("<r1@x>", "t1@x", "Hi Sara,\nThe issue is RESOLVED now.\n\nFrom: Sara\nWhat is the status?"),
		sentReply("<r2@x>", "<unknown@x>", "done"),
		sentReply("<r3@x>", "<t2@x>", "I will look at it tomorrow."),
	}

	if n := s.Scan(ctx, mb, window); n != 1 {
		t.Fatalf("closed = %d, want 1", n)
	}

	got, err := repo.GetByID(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.TaskClosed || got.AutoCompletedAt == nil || got.ClosedAt == nil {
		t.Errorf("task = %+v", got)
	}
	if got.ActionTaken != model.ActionAutoCompleted {
		t.Errorf("action = %q", got.ActionTaken)
	}
	want := `Replied on 2026-03-02 10:15: "Hi Sara, The issue is RESOLVED now."`
	if got.CompletionEvidence != want {
		t.Errorf("evidence = %q, want %q", got.CompletionEvidence, want)
	}

	other, _ := repo.GetByID(ctx, untouched.ID)
	if other.Status != model.TaskNew || other.AutoCompletedAt != nil {
		t.Errorf("unrelated task changed: %+v", other)
	}

	var events int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_events WHERE routing_key = 'task.auto_completed'`).Scan(&events); err != nil {
		t.Fatal(err)
	}
	if events != 1 {
		t.Errorf("events = %d", events)
	}

	if n := s.Scan(ctx, mb, window); n != 0 {
		t.Errorf("second scan closed %d", n)
	}
}

func TestScanIgnoresPausedAndQuotedKeywords(t *testing.T) {
	s, repo, _ := newTestScanner(t)
	seed(t, repo, "<paused@x>", model.TaskPaused)
	seed(t, repo, "<open@x>", model.TaskNew)

	mb := mailboxtest.New("me@example.com")
	mb.Sent = []mailbox.Message{
		sentReply("<r1@x>", "<paused@x>", "All done."),
		sentReply("<r2@x>", "<open@x>", "Checking.\n-----Original Message-----\nIs it fixed?"),
	}
	if n := s.Scan(context.Background(), mb, window); n != 0 {
		t.Errorf("closed = %d, want 0", n)
	}
}

func TestScanIgnoresGmailQuotedKeywords(t *testing.T) {
	ctx := context.Background()
	s, repo, _ := newTestScanner(t)
	task := seed(t, repo, "<gmail@x>", model.TaskInProgress)

	mb := mailboxtest.New("me@example.com")
	mb.Sent = []mailbox.Message{
		sentReply("<r1@x>", "<gmail@x>", "Checking, will get back to you.\n\nOn Mon, Mar 2, 2026 at 9:00 AM Sara <sara@x.com> wrote:\n> Is it fixed?\n> Let me know when done."),
	}
	if n := s.Scan(ctx, mb, window); n != 0 {
		t.Fatalf("closed = %d, want 0", n)
	}
	got, err := repo.GetByID(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.TaskInProgress {
		t.Errorf("status = %q", got.Status)
	}
}

func TestScanTruncatesEvidence(t *testing.T) {
	s, repo, _ := newTestScanner(t)
	task := seed(t, repo, "<long@x>", model.TaskNew)
	mb := mailboxtest.New("me@example.com")
	mb.Sent = []mailbox.Message{sentReply("<r@x>", "<long@x>", "Completed. "+strings.Repeat("x", 300))}

	if n := s.Scan(context.Background(), mb, window); n != 1 {
		t.Fatalf("closed = %d", n)
	}
	got, _ := repo.GetByID(context.Background(), task.ID)
	if !strings.HasSuffix(got.CompletionEvidence, `..."`) || len(got.CompletionEvidence) > 140 {
		t.Errorf("evidence = %q", got.CompletionEvidence)
	}
}

func TestScanFailureReturnsZero(t *testing.T) {
	s, repo, _ := newTestScanner(t)
	seed(t, repo, "<a@x>", model.TaskNew)
	mb := mailboxtest.New("me@example.com")
	mb.SentErr = errors.New("gmail unavailable")
	if n := s.Scan(context.Background(), mb, window); n != 0 {
		t.Errorf("closed = %d", n)
	}
}
