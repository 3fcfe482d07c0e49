package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailpilot/internal/approval"
	"mailpilot/internal/auth"
	"mailpilot/internal/handler"
	"mailpilot/internal/llm/llmtest"
	"mailpilot/internal/mailbox"
	"mailpilot/internal/mailbox/mailboxtest"
	"mailpilot/internal/model"
	"mailpilot/internal/people"
	"mailpilot/internal/report"
	"mailpilot/internal/repository"
	"mailpilot/internal/settings"
	"mailpilot/internal/summary"
	"mailpilot/internal/syncer"
	"mailpilot/internal/tasks"
	"mailpilot/pkg/db"
	"mailpilot/pkg/outbox"
	"mailpilot/pkg/trace"
)

const testSecret = "router-test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

// accounts 是内存版的邮箱连接表
type accounts struct {
	boxes       map[int64]mailbox.Client
	invalidated []int64
}

func (a *accounts) Get(_ context.Context, userID int64) (mailbox.Client, error) {
	mb, ok := a.boxes[userID]
	if !ok {
		return nil, mailbox.ErrNotConnected
	}
	return mb, nil
}

func (a *accounts) Invalidate(userID int64) { a.invalidated = append(a.invalidated, userID) }

type noopRunner struct{ calls int }

func (r *noopRunner) Run(_ context.Context, _ mailbox.Client, req syncer.Request) syncer.Result {
	r.calls++
	return syncer.Result{Success: true}
}

type recordingJobs struct {
	syncs     []mailbox.Window
	summaries []int64
}

func (j *recordingJobs) EnqueueSync(_ context.Context, _ int64, w mailbox.Window, _ bool, _ string) (string, error) {
	j.syncs = append(j.syncs, w)
	return "req-sync", nil
}

func (j *recordingJobs) EnqueueSummary(_ context.Context, id int64, _ string) (string, error) {
	j.summaries = append(j.summaries, id)
	return "req-summary", nil
}

type noWatermark struct{}

func (noWatermark) LastSync(context.Context) (time.Time, bool) { return time.Time{}, false }

type noReplay struct{}

func (noReplay) ReplayEvent(_ context.Context, id int64) error {
	if id == 404 {
		return outbox.ErrEventNotFound
	}
	return nil
}

func (noReplay) ReplayFailedEvents(context.Context, int) (int, error) { return 0, nil }

type fixture struct {
	router   *Router
	conn     *db.SQLiteConn
	auth     *auth.Service
	tasks    *tasks.Service
	accounts *accounts
	jobs     *recordingJobs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := db.OpenSQLite(":memory:", nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(conn.Close)
	if err := repository.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	log := zap.NewNop()
	events := outbox.NewRepository(conn)
	gen := &llmtest.Scripted{Default: llmtest.Text("ok")}
	users := repository.NewUserRepository(conn)
	authSvc := auth.NewService(users, testSecret, time.Hour, log)
	taskSvc := tasks.NewService(conn, events, 2, log)
	settingsSvc := settings.NewService(repository.NewSettingsRepository(conn), "smart", log)
	registry := people.NewRegistry(repository.NewPersonRepository(conn), repository.NewTaskRepository(conn), log)
	engine := approval.NewEngine(conn, gen, settingsSvc, events, log)
	summaries := summary.NewGenerator(conn, gen, settingsSvc, nil, 7, time.UTC, log)
	reports := report.NewService(conn, gen, settingsSvc, 2, time.UTC, log)

	acc := &accounts{boxes: map[int64]mailbox.Client{}}
	jobs := &recordingJobs{}

	h := Handlers{
		Auth:      handler.NewAuthHandler(authSvc, acc, log),
		Tasks:     handler.NewTaskHandler(taskSvc, acc, log),
		Sync:      handler.NewSyncHandler(&noopRunner{}, jobs, noWatermark{}, acc, time.UTC, log),
		Circle:    handler.NewCircleHandler(registry, acc, 50, time.UTC, log),
		Summaries: handler.NewSummaryHandler(summaries, jobs, log),
		Reports:   handler.NewReportHandler(reports, log),
		Settings:  handler.NewSettingsHandler(settingsSvc, log),
		Approvals: handler.NewApprovalHandler(engine, acc, log),
		Mailbox:   handler.NewMailboxHandler(nil, users, acc, log),
		Admin:     handler.NewAdminHandler(noReplay{}, log),
	}
	return &fixture{
		router:   NewRouter(h, authSvc, conn, log),
		conn:     conn,
		auth:     authSvc,
		tasks:    taskSvc,
		accounts: acc,
		jobs:     jobs,
	}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.Engine.ServeHTTP(w, req)
	return w
}

// login registers a user and returns its id and token.
func (f *fixture) login(t *testing.T, email string) (int64, string) {
	t.Helper()
	if w := f.do(t, http.MethodPost, "/register", "", map[string]string{"email": email, "password": "s3cret!"}); w.Code != http.StatusCreated {
		t.Fatalf("register: %d %s", w.Code, w.Body.String())
	}
	w := f.do(t, http.MethodPost, "/login", "", map[string]string{"email": email, "password": "s3cret!"})
	if w.Code != http.StatusOK {
		t.Fatalf("login: %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token string      `json:"token"`
		User  *model.User `json:"user"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return resp.User.ID, resp.Token
}

func (f *fixture) seedTask(t *testing.T, messageID string) *model.Task {
	t.Helper()
	now := time.Now()
	task := &model.Task{
		MessageID:      messageID,
		Subject:        "Export broken",
		Sender:         "Alice",
		SenderEmail:    "alice@example.com",
		Status:         model.TaskNew,
		TriageCategory: model.BucketDeepWork,
		Priority:       model.PriorityMedium,
		ReceivedAt:     now,
		CreatedAt:      now,
	}
	if err := f.tasks.Create(context.Background(), task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/healthz", "/health", "/readyz"} {
		if w := f.do(t, http.MethodGet, path, "", nil); w.Code != http.StatusOK {
			t.Errorf("%s: got %d", path, w.Code)
		}
	}
}

func TestTraceHeaderEchoed(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(trace.HeaderName, "trace-abc")
	w := httptest.NewRecorder()
	f.router.Engine.ServeHTTP(w, req)
	if got := w.Header().Get(trace.HeaderName); got != "trace-abc" {
		t.Fatalf("trace header = %q", got)
	}

	w = f.do(t, http.MethodGet, "/healthz", "", nil)
	if w.Header().Get(trace.HeaderName) == "" {
		t.Fatal("expected a generated trace id")
	}
}

func TestAPIRequiresToken(t *testing.T) {
	f := newFixture(t)
	if w := f.do(t, http.MethodGet, "/api/tasks", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: got %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/tasks", "garbage", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: got %d", w.Code)
	}
}

func TestRegisterDuplicateAndBadLogin(t *testing.T) {
	f := newFixture(t)
	f.login(t, "me@example.com")

	w := f.do(t, http.MethodPost, "/register", "", map[string]string{"email": "ME@example.com", "password": "x"})
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate register: got %d", w.Code)
	}
	w = f.do(t, http.MethodPost, "/login", "", map[string]string{"email": "me@example.com", "password": "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad login: got %d", w.Code)
	}
}

func TestTaskRoutes(t *testing.T) {
	f := newFixture(t)
	_, token := f.login(t, "me@example.com")
	task := f.seedTask(t, "<m1@example.com>")

	w := f.do(t, http.MethodGet, "/api/tasks", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: %d", w.Code)
	}
	var list []*model.Task
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil || len(list) != 1 {
		t.Fatalf("list = %v (%v)", list, err)
	}

	w = f.do(t, http.MethodPut, "/api/tasks/"+itoa(task.ID), token, map[string]string{"status": "sleeping"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid status: got %d", w.Code)
	}

	w = f.do(t, http.MethodPut, "/api/tasks/"+itoa(task.ID), token, map[string]string{"status": "closed"})
	if w.Code != http.StatusOK {
		t.Fatalf("close: got %d %s", w.Code, w.Body.String())
	}
	var closed model.Task
	if err := json.Unmarshal(w.Body.Bytes(), &closed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if closed.Status != model.TaskClosed || closed.ClosedAt == nil || closed.ActionTaken != model.ActionManualCompletion {
		t.Fatalf("unexpected closed task: %+v", closed)
	}

	if w := f.do(t, http.MethodPut, "/api/tasks/9999", token, map[string]string{"status": "closed"}); w.Code != http.StatusNotFound {
		t.Fatalf("missing task: got %d", w.Code)
	}
	if w := f.do(t, http.MethodDelete, "/api/tasks/"+itoa(task.ID), token, nil); w.Code != http.StatusOK {
		t.Fatalf("delete: got %d", w.Code)
	}
}

func TestViewerCannotDelete(t *testing.T) {
	f := newFixture(t)
	task := f.seedTask(t, "<m2@example.com>")
	token, err := auth.GenerateJWT(42, "viewer", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if w := f.do(t, http.MethodDelete, "/api/tasks/"+itoa(task.ID), token, nil); w.Code != http.StatusForbidden {
		t.Fatalf("viewer delete: got %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/admin/outbox/replay-failed", token, nil); w.Code != http.StatusForbidden {
		t.Fatalf("viewer replay: got %d", w.Code)
	}
	// 读接口对 viewer 开放
	if w := f.do(t, http.MethodGet, "/api/tasks", token, nil); w.Code != http.StatusOK {
		t.Fatalf("viewer list: got %d", w.Code)
	}
}

func TestTaskEmailAndReply(t *testing.T) {
	f := newFixture(t)
	uid, token := f.login(t, "me@example.com")
	task := f.seedTask(t, "<m3@example.com>")

	// 未连接邮箱
	if w := f.do(t, http.MethodGet, "/api/tasks/"+itoa(task.ID)+"/email", token, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("not connected: got %d", w.Code)
	}

	fake := mailboxtest.New("me@example.com")
	f.accounts.boxes[uid] = fake
	if w := f.do(t, http.MethodGet, "/api/tasks/"+itoa(task.ID)+"/email", token, nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing message: got %d", w.Code)
	}

	fake.Inbox = append(fake.Inbox, mailbox.Message{
		ID:         "<m3@example.com>",
		Subject:    "Export broken",
		From:       mailbox.Address{Name: "Alice", Email: "alice@example.com"},
		ReceivedAt: time.Now(),
	})
	if w := f.do(t, http.MethodGet, "/api/tasks/"+itoa(task.ID)+"/email", token, nil); w.Code != http.StatusOK {
		t.Fatalf("email: got %d", w.Code)
	}

	if w := f.do(t, http.MethodPost, "/api/tasks/"+itoa(task.ID)+"/reply", token, map[string]string{}); w.Code != http.StatusBadRequest {
		t.Fatalf("empty reply: got %d", w.Code)
	}
	w := f.do(t, http.MethodPost, "/api/tasks/"+itoa(task.ID)+"/reply", token, map[string]string{"reply_body": "Fixed.", "reply_type": "done"})
	if w.Code != http.StatusOK {
		t.Fatalf("reply: got %d %s", w.Code, w.Body.String())
	}
	if len(fake.Replies) != 1 || fake.Replies[0].Body != "Fixed." {
		t.Fatalf("replies = %+v", fake.Replies)
	}
}

func TestApprovalActionErrors(t *testing.T) {
	f := newFixture(t)
	_, token := f.login(t, "me@example.com")

	w := f.do(t, http.MethodPost, "/api/approvals/1/action", token, map[string]string{"action": "Maybe"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid action: got %d", w.Code)
	}
	w = f.do(t, http.MethodPost, "/api/approvals/77/action", token, map[string]string{"action": "Approved"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown request: got %d", w.Code)
	}
}

func TestApprovalDecisionWithoutMailbox(t *testing.T) {
	f := newFixture(t)
	_, token := f.login(t, "me@example.com")

	req := &model.ApprovalRequest{
		Subject:        "Leave request",
		Sender:         "Bob",
		SenderEmail:    "bob@example.com",
		RequestType:    "Leave",
		RiskLevel:      model.RiskLow,
		Recommendation: model.RecommendApprove,
		Status:         model.ApprovalPending,
		ReceivedAt:     time.Now(),
		CreatedAt:      time.Now(),
	}
	if err := repository.NewApprovalRepository(f.conn).Create(context.Background(), req); err != nil {
		t.Fatalf("seed approval: %v", err)
	}

	if w := f.do(t, http.MethodGet, "/api/approvals/count", token, nil); w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte("1")) {
		t.Fatalf("count: %d %s", w.Code, w.Body.String())
	}
	w := f.do(t, http.MethodPost, "/api/approvals/"+itoa(req.ID)+"/action", token, map[string]string{"action": "Approved"})
	if w.Code != http.StatusOK {
		t.Fatalf("approve: got %d %s", w.Code, w.Body.String())
	}
	// 重复决策被拒绝
	w = f.do(t, http.MethodPost, "/api/approvals/"+itoa(req.ID)+"/action", token, map[string]string{"action": "Rejected"})
	if w.Code != http.StatusInternalServerError || !bytes.Contains(w.Body.Bytes(), []byte("Request already Approved")) {
		t.Fatalf("second decision: %d %s", w.Code, w.Body.String())
	}
}

func TestHistoricalSyncEnqueues(t *testing.T) {
	f := newFixture(t)
	_, token := f.login(t, "me@example.com")

	w := f.do(t, http.MethodPost, "/api/sync/historical", token, map[string]string{"date": "2026-03-02"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("historical: got %d %s", w.Code, w.Body.String())
	}
	if len(f.jobs.syncs) != 1 {
		t.Fatalf("expected one sync job, got %d", len(f.jobs.syncs))
	}
	want := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	if !f.jobs.syncs[0].Start.Equal(want) {
		t.Fatalf("window start = %v", f.jobs.syncs[0].Start)
	}
	if w := f.do(t, http.MethodPost, "/api/sync/historical", token, map[string]string{"date": "yesterday"}); w.Code != http.StatusBadRequest {
		t.Fatalf("bad date: got %d", w.Code)
	}
}

func TestSummaryGenerateEnqueues(t *testing.T) {
	f := newFixture(t)
	_, token := f.login(t, "me@example.com")

	w := f.do(t, http.MethodGet, "/api/summaries", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: got %d", w.Code)
	}
	var list []*model.DailySummary
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil || len(list) == 0 {
		t.Fatalf("summaries = %v (%v)", list, err)
	}

	w = f.do(t, http.MethodPost, "/api/summaries/generate/"+itoa(list[0].ID), token, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("generate: got %d %s", w.Code, w.Body.String())
	}
	if len(f.jobs.summaries) != 1 || f.jobs.summaries[0] != list[0].ID {
		t.Fatalf("summary jobs = %v", f.jobs.summaries)
	}
	if w := f.do(t, http.MethodPost, "/api/summaries/generate/999", token, nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing summary: got %d", w.Code)
	}
}

func TestMailboxRoutesWithoutOAuth(t *testing.T) {
	f := newFixture(t)
	uid, token := f.login(t, "me@example.com")

	if w := f.do(t, http.MethodGet, "/api/mailbox/auth-url", token, nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("auth-url: got %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/api/logout", token, nil); w.Code != http.StatusOK {
		t.Fatalf("logout: got %d", w.Code)
	}
	if len(f.accounts.invalidated) != 1 || f.accounts.invalidated[0] != uid {
		t.Fatalf("invalidated = %v", f.accounts.invalidated)
	}
}

func TestAdminReplayRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	_, userToken := f.login(t, "me@example.com")
	if w := f.do(t, http.MethodPost, "/admin/outbox/replay?id=1", userToken, nil); w.Code != http.StatusForbidden {
		t.Fatalf("user replay: got %d", w.Code)
	}

	adminToken, err := auth.GenerateJWT(1, "admin", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	cases := []struct {
		path string
		want int
	}{
		{"/admin/outbox/replay?id=1", http.StatusOK},
		{"/admin/outbox/replay?id=abc", http.StatusBadRequest},
		{"/admin/outbox/replay?id=404", http.StatusNotFound},
		{"/admin/outbox/replay-failed?limit=10000", http.StatusOK},
	}
	for _, tc := range cases {
		if w := f.do(t, http.MethodPost, tc.path, adminToken, nil); w.Code != tc.want {
			t.Errorf("%s: got %d, want %d", tc.path, w.Code, tc.want)
		}
	}
}

func itoa(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
