package approval

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"mailpilot/internal/llm/llmtest"
	"mailpilot/internal/mailbox"
	"mailpilot/internal/mailbox/mailboxtest"
	"mailpilot/internal/model"
	"mailpilot/internal/repository"
	"mailpilot/pkg/db"
	"mailpilot/pkg/outbox"
)

type fixedModel string

func (m fixedModel) Model(context.Context) string { return string(m) }

const analysis = `{
	"request_type": "it change",
	"summary": "Deploy CRM release 4.2 on Friday",
	"5w1h": {"what": "Production deployment", "when": "Friday 22:00", "how": "Blue/green"},
	"risk_level": "HIGH",
	"recommendation": "maybe",
	"confidence_score": 85,
	"impact_analysis": "Two hours of downtime",
	"conflict_flag": "None"
}`

func newTestEngine(t *testing.T, gen *llmtest.Scripted) (*Engine, db.Conn) {
	t.Helper()
	conn, err := db.OpenSQLite(":memory:", nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(conn.Close)
	if err := repository.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewEngine(conn, gen, fixedModel("smart"), outbox.NewRepository(conn), zap.NewNop()), conn
}

func approvalMessage() *mailbox.Message {
	return &mailbox.Message{
		ID:         "<cr-42@example.com>",
		Subject:    "Request for approval: CRM release",
		From:       mailbox.Address{Name: "Omar", Email: "Omar@Example.com"},
		To:         []mailbox.Address{{Email: "me@example.com"}},
		Body:       "Kindly provide your approval for the production deployment.",
		ReceivedAt: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
	}
}

func countRows(t *testing.T, conn db.Conn, query string, args ...any) int {
	t.Helper()
	var n int
	if err := conn.QueryRow(context.Background(), query, args...).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestIngestNormalizesModelOutput(t *testing.T) {
	ctx := context.Background()
	e, conn := newTestEngine(t, &llmtest.Scripted{Default: llmtest.Text(analysis)})

	req, ok := e.Ingest(ctx, approvalMessage())
	if !ok {
		t.Fatal("ingest failed")
	}
	if req.RequestType != "IT Change" || req.RiskLevel != model.RiskHigh || req.Recommendation != model.RecommendReview {
		t.Errorf("enums not normalized: %q %q %q", req.RequestType, req.RiskLevel, req.Recommendation)
	}
	if req.Confidence != 0.85 {
		t.Errorf("confidence = %v, want 0.85", req.Confidence)
	}
	if req.Details.Who != "Omar" || req.Details.What != "Production deployment" {
		t.Errorf("details = %+v", req.Details)
	}
	if req.Status != model.ApprovalPending || req.ImpactAnalysis == "" {
		t.Errorf("request = %+v", req)
	}

	logs, err := e.Audit(ctx, req.ID)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(logs) != 1 || logs[0].Action != model.AuditAIClassified || logs[0].Metadata["score"] != 0.85 {
		t.Errorf("audit = %+v", logs)
	}
	if n := countRows(t, conn, `SELECT COUNT(*) FROM outbox_events WHERE routing_key = 'approval.created'`); n != 1 {
		t.Errorf("approval.created events = %d", n)
	}
}

func TestIngestFallbackAnalysis(t *testing.T) {
	for name, reply := range map[string]llmtest.Reply{
		"unreachable": llmtest.Fail(),
		"malformed":   llmtest.Text("I cannot help with that"),
	} {
		t.Run(name, func(t *testing.T) {
			e, _ := newTestEngine(t, &llmtest.Scripted{Default: reply})
			msg := approvalMessage()
			req, ok := e.Ingest(context.Background(), msg)
			if !ok {
				t.Fatal("fallback must still store the request")
			}
			if req.RequestType != "General" || req.RiskLevel != model.RiskMedium ||
				req.Recommendation != model.RecommendReview || req.Confidence != 0 {
				t.Errorf("fallback = %+v", req)
			}
			if req.Summary != msg.Subject || req.Details.Who != "Omar" || req.Details.Details == "" {
				t.Errorf("fallback text = %q %+v", req.Summary, req.Details)
			}
		})
	}
}

func TestIngestIsIdempotent(t *testing.T) {
	ctx := context.Background()
	gen := &llmtest.Scripted{Default: llmtest.Text(analysis)}
	e, conn := newTestEngine(t, gen)

	first, _ := e.Ingest(ctx, approvalMessage())
	second, ok := e.Ingest(ctx, approvalMessage())
	if !ok || second.ID != first.ID {
		t.Fatalf("second ingest = %+v ok=%v, want existing id %d", second, ok, first.ID)
	}
	if len(gen.Requests) != 1 {
		t.Errorf("model calls = %d, want 1", len(gen.Requests))
	}
	if n := countRows(t, conn, `SELECT COUNT(*) FROM approval_audit_logs`); n != 1 {
		t.Errorf("audit rows = %d", n)
	}
}

func TestIngestRefusesMessageClaimedByTask(t *testing.T) {
	ctx := context.Background()
	e, conn := newTestEngine(t, &llmtest.Scripted{Default: llmtest.Text(analysis)})
	if err := repository.ClaimMessage(ctx, conn, approvalMessage().ID, repository.ClaimTask, time.Now().UTC()); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if req, ok := e.Ingest(ctx, approvalMessage()); ok || req != nil {
		t.Errorf("ingest = %+v, want refusal", req)
	}
	if n := countRows(t, conn, `SELECT COUNT(*) FROM approval_requests`); n != 0 {
		t.Errorf("approval rows = %d", n)
	}
}

func TestExecuteAction(t *testing.T) {
	ctx := context.Background()
	e, conn := newTestEngine(t, &llmtest.Scripted{Default: llmtest.Text(analysis)})
	mb := mailboxtest.New("me@example.com")
	mb.Inbox = []mailbox.Message{*approvalMessage()}

	req, _ := e.Ingest(ctx, approvalMessage())

	ok, msg := e.ExecuteAction(ctx, mb, req.ID, "Approved", "Go ahead after 22:00")
	if !ok || msg != "Request Approved successfully." {
		t.Fatalf("execute = %v %q", ok, msg)
	}
	if len(mb.Replies) != 1 {
		t.Fatalf("replies = %+v", mb.Replies)
	}
	if body := mb.Replies[0].Body; !strings.HasPrefix(body, "Your request has been approved.") || !strings.Contains(body, "\n\nNote: Go ahead after 22:00") {
		t.Errorf("reply body = %q", body)
	}

	got, err := e.Get(ctx, req.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.ApprovalApproved || got.HumanActionAt == nil || got.HumanNotes != "Go ahead after 22:00" {
		t.Errorf("decided request = %+v", got)
	}
	logs, _ := e.Audit(ctx, req.ID)
	if len(logs) != 2 || logs[1].Action != "User_Approved" {
		t.Errorf("audit = %+v", logs)
	}

	if ok, msg := e.ExecuteAction(ctx, mb, req.ID, "Rejected", ""); ok || !strings.Contains(msg, "already") {
		t.Errorf("second decision = %v %q", ok, msg)
	}
	if n, _ := e.PendingCount(ctx); n != 0 {
		t.Errorf("pending = %d", n)
	}
	if n := countRows(t, conn, `SELECT COUNT(*) FROM outbox_events WHERE routing_key = 'approval.decided'`); n != 1 {
		t.Errorf("approval.decided events = %d", n)
	}
}

func TestExecuteActionRejections(t *testing.T) {
	ctx := context.Background()
	e, conn := newTestEngine(t, &llmtest.Scripted{Default: llmtest.Text(analysis)})
	mb := mailboxtest.New("me@example.com")

	if ok, msg := e.ExecuteAction(ctx, mb, 404, "Approved", ""); ok || msg != MsgNotFound {
		t.Errorf("missing request = %v %q", ok, msg)
	}
	if n := countRows(t, conn, `SELECT COUNT(*) FROM approval_audit_logs`); n != 0 {
		t.Errorf("audit rows after not-found = %d", n)
	}

	req, _ := e.Ingest(ctx, approvalMessage())
	if ok, msg := e.ExecuteAction(ctx, mb, req.ID, "Escalated", ""); ok || msg != MsgInvalidAction {
		t.Errorf("invalid action = %v %q", ok, msg)
	}

	// 原邮件已不在邮箱中：回复失败，决策不落库
	ok, _ := e.ExecuteAction(ctx, mb, req.ID, "Rejected", "")
	if ok {
		t.Fatal("expected failure when the reply cannot be sent")
	}
	got, _ := e.Get(ctx, req.ID)
	if got.Status != model.ApprovalPending {
		t.Errorf("status = %q, want Pending after failed send", got.Status)
	}
	if n := countRows(t, conn, `SELECT COUNT(*) FROM approval_audit_logs WHERE approval_id = $1`, req.ID); n != 1 {
		t.Errorf("audit rows = %d, want only AI_Classified", n)
	}

	mb.SendErr = errors.New("smtp down")
	mb.Inbox = []mailbox.Message{*approvalMessage()}
	if ok, msg := e.ExecuteAction(ctx, mb, req.ID, "Rejected", ""); ok || !strings.Contains(msg, "smtp down") {
		t.Errorf("send error = %v %q", ok, msg)
	}
}

func TestDecideLosesToEarlierDecision(t *testing.T) {
	ctx := context.Background()
	e, conn := newTestEngine(t, &llmtest.Scripted{Default: llmtest.Text(analysis)})
	mb := mailboxtest.New("me@example.com")
	mb.Inbox = []mailbox.Message{*approvalMessage()}

	req, _ := e.Ingest(ctx, approvalMessage())
	// 两个决策都在对方提交前读到了 Pending
	stale, err := e.Get(ctx, req.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok, msg := e.ExecuteAction(ctx, mb, req.ID, "Approved", "first"); !ok {
		t.Fatalf("first decision = %q", msg)
	}

	err = e.decide(ctx, mb, stale, model.ApprovalRejected, "second")
	var decided *repository.DecidedError
	if !errors.As(err, &decided) || decided.Status != model.ApprovalApproved {
		t.Fatalf("late decision: %v", err)
	}
	if len(mb.Replies) != 1 {
		t.Errorf("replies = %d, want 1", len(mb.Replies))
	}
	if n := countRows(t, conn, `SELECT COUNT(*) FROM approval_audit_logs WHERE approval_id = $1 AND action LIKE 'User_%'`, req.ID); n != 1 {
		t.Errorf("user audit rows = %d", n)
	}
	if n := countRows(t, conn, `SELECT COUNT(*) FROM outbox_events WHERE routing_key = 'approval.decided'`); n != 1 {
		t.Errorf("approval.decided events = %d", n)
	}
	got, _ := e.Get(ctx, req.ID)
	if got.Status != model.ApprovalApproved || got.HumanNotes != "first" {
		t.Errorf("request = %+v", got)
	}
}

func TestFeedHistoryDelete(t *testing.T) {
	ctx := context.Background()
	gen := &llmtest.Scripted{}
	gen.On("low-risk", llmtest.Text(`{"risk_level":"Low"}`)).On("high-risk", llmtest.Text(`{"risk_level":"High"}`))
	e, conn := newTestEngine(t, gen)

	low := approvalMessage()
	low.ID, low.Subject = "<low@x>", "low-risk"
	high := approvalMessage()
	high.ID, high.Subject = "<high@x>", "high-risk"
	lowReq, _ := e.Ingest(ctx, low)
	highReq, _ := e.Ingest(ctx, high)

	feed, err := e.Feed(ctx)
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(feed) != 2 || feed[0].ID != highReq.ID {
		t.Errorf("feed order = %+v", feed)
	}

	mb := mailboxtest.New("me@example.com")
	mb.Inbox = []mailbox.Message{*low}
	if ok, msg := e.ExecuteAction(ctx, mb, lowReq.ID, "rejected", ""); !ok {
		t.Fatalf("reject: %s", msg)
	}
	history, _ := e.History(ctx, 0)
	if len(history) != 1 || history[0].ID != lowReq.ID {
		t.Errorf("history = %+v", history)
	}

	if err := e.Delete(ctx, lowReq.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n := countRows(t, conn, `SELECT COUNT(*) FROM approval_audit_logs WHERE approval_id = $1`, lowReq.ID); n != 0 {
		t.Errorf("orphan audit rows = %d", n)
	}
	if err := e.Delete(ctx, lowReq.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("second delete err = %v", err)
	}
}
