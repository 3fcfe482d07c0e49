package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	mqcontract "mailpilot/contracts/mq"
	"mailpilot/internal/mailbox"
	"mailpilot/internal/mailbox/mailboxtest"
	"mailpilot/internal/model"
	"mailpilot/internal/summary"
	"mailpilot/internal/syncer"
)

type memDeduper struct{ seen map[string]bool }

func (d *memDeduper) AcquireOnce(_ context.Context, handler, id string) bool {
	if d.seen == nil {
		d.seen = map[string]bool{}
	}
	k := handler + ":" + id
	if d.seen[k] {
		return false
	}
	d.seen[k] = true
	return true
}

func (d *memDeduper) Release(_ context.Context, handler, id string) {
	delete(d.seen, handler+":"+id)
}

type memRetries struct{ counts map[string]int64 }

func (r *memRetries) IncrementAndGet(_ context.Context, key string) (int64, error) {
	if r.counts == nil {
		r.counts = map[string]int64{}
	}
	r.counts[key]++
	return r.counts[key], nil
}

func (r *memRetries) Reset(_ context.Context, key string) error {
	delete(r.counts, key)
	return nil
}

type dlqRecord struct {
	key, reason string
}

type memDLQ struct{ records []dlqRecord }

func (d *memDLQ) PublishToDLQ(_ context.Context, key string, _ []byte, reason, _ string) error {
	d.records = append(d.records, dlqRecord{key, reason})
	return nil
}

type staticAccounts struct {
	mb  mailbox.Client
	err error
}

func (a staticAccounts) Get(context.Context, int64) (mailbox.Client, error) { return a.mb, a.err }

type scriptedRunner struct {
	results []syncer.Result
	reqs    []syncer.Request
}

func (r *scriptedRunner) Run(_ context.Context, _ mailbox.Client, req syncer.Request) syncer.Result {
	r.reqs = append(r.reqs, req)
	res := r.results[0]
	if len(r.results) > 1 {
		r.results = r.results[1:]
	}
	return res
}

func syncPayload(t *testing.T, id string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(mqcontract.SyncRequestedPayload{
		RequestID: id,
		UserID:    1,
		Start:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		End:       time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		Suppress:  true,
		Trigger:   syncer.TriggerHistorical,
	})
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func newOptions() (Options, *memDeduper, *memRetries, *memDLQ) {
	d, r, q := &memDeduper{}, &memRetries{}, &memDLQ{}
	return Options{Deduper: d, Retries: r, DLQ: q, MaxRetries: 2}, d, r, q
}

func TestSyncHandlerRunsOnce(t *testing.T) {
	opts, _, _, dlq := newOptions()
	runner := &scriptedRunner{results: []syncer.Result{{Success: true, Analyzed: 3}}}
	h := NewSyncHandler(staticAccounts{mb: mailboxtest.New("me@example.com")}, runner, opts, zap.NewNop())

	raw := syncPayload(t, "req-1")
	if err := h.Handle(context.Background(), raw); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if err := h.Handle(context.Background(), raw); err != nil {
		t.Fatalf("duplicate: %v", err)
	}
	if len(runner.reqs) != 1 {
		t.Fatalf("runs: %d", len(runner.reqs))
	}
	req := runner.reqs[0]
	if !req.SuppressWatermark || req.Trigger != syncer.TriggerHistorical || req.UserID != 1 {
		t.Fatalf("unexpected request: %+v", req)
	}
	if len(dlq.records) != 0 {
		t.Fatalf("unexpected dlq: %v", dlq.records)
	}
}

func TestSyncHandlerRetriesThenDeadLetters(t *testing.T) {
	opts, _, retries, dlq := newOptions()
	runner := &scriptedRunner{results: []syncer.Result{{Success: false, Error: "inbox fetch timed out"}}}
	h := NewSyncHandler(staticAccounts{mb: mailboxtest.New("me@example.com")}, runner, opts, zap.NewNop())
	raw := syncPayload(t, "req-2")

	for i := 0; i < 2; i++ {
		if err := h.Handle(context.Background(), raw); err == nil {
			t.Fatalf("attempt %d should nack", i+1)
		}
	}
	if err := h.Handle(context.Background(), raw); err != nil {
		t.Fatalf("third attempt should ack: %v", err)
	}
	if len(runner.reqs) != 3 {
		t.Fatalf("runs: %d", len(runner.reqs))
	}
	if len(dlq.records) != 1 || dlq.records[0].key != mqcontract.RoutingSyncRequested {
		t.Fatalf("dlq: %+v", dlq.records)
	}
	if len(retries.counts) != 0 {
		t.Fatalf("retry counter not reset: %v", retries.counts)
	}
}

func TestSyncHandlerBadPayload(t *testing.T) {
	opts, _, _, dlq := newOptions()
	runner := &scriptedRunner{results: []syncer.Result{{Success: true}}}
	h := NewSyncHandler(staticAccounts{}, runner, opts, zap.NewNop())

	if err := h.Handle(context.Background(), json.RawMessage(`{"user_id":`)); err != nil {
		t.Fatalf("bad json should ack: %v", err)
	}
	if err := h.Handle(context.Background(), json.RawMessage(`{"request_id":"x","user_id":0}`)); err != nil {
		t.Fatalf("invalid request should ack: %v", err)
	}
	if len(dlq.records) != 2 || len(runner.reqs) != 0 {
		t.Fatalf("dlq %d runs %d", len(dlq.records), len(runner.reqs))
	}
}

func TestSyncHandlerDisconnectedMailbox(t *testing.T) {
	opts, _, _, dlq := newOptions()
	runner := &scriptedRunner{results: []syncer.Result{{Success: true}}}
	h := NewSyncHandler(staticAccounts{err: mailbox.ErrNotConnected}, runner, opts, zap.NewNop())
	if err := h.Handle(context.Background(), syncPayload(t, "req-3")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(runner.reqs) != 0 || len(dlq.records) != 0 {
		t.Fatal("disconnected mailbox should be dropped quietly")
	}
}

type fakeSummaries struct {
	ensured   []string
	generated []int64
	err       error
}

func (f *fakeSummaries) EnsureDate(_ context.Context, date string) (*model.DailySummary, error) {
	f.ensured = append(f.ensured, date)
	return &model.DailySummary{ID: 9, Date: date}, nil
}

func (f *fakeSummaries) Generate(_ context.Context, id int64) (*model.DailySummary, error) {
	f.generated = append(f.generated, id)
	if f.err != nil {
		return nil, f.err
	}
	return &model.DailySummary{ID: id, Status: model.SummaryGenerated}, nil
}

func TestSummaryHandler(t *testing.T) {
	opts, _, _, dlq := newOptions()
	sums := &fakeSummaries{}
	h := NewSummaryHandler(sums, opts, zap.NewNop())

	raw, _ := json.Marshal(mqcontract.SummaryRequestedPayload{RequestID: "s-1", Date: "2026-03-01"})
	if err := h.Handle(context.Background(), raw); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(sums.ensured) != 1 || len(sums.generated) != 1 || sums.generated[0] != 9 {
		t.Fatalf("ensured %v generated %v", sums.ensured, sums.generated)
	}

	sums.err = summary.ErrNotFound
	raw, _ = json.Marshal(mqcontract.SummaryRequestedPayload{RequestID: "s-2", SummaryID: 77})
	if err := h.Handle(context.Background(), raw); err != nil {
		t.Fatalf("missing summary should ack: %v", err)
	}

	sums.err = errors.New("disk full")
	raw, _ = json.Marshal(mqcontract.SummaryRequestedPayload{RequestID: "s-3", SummaryID: 5})
	if err := h.Handle(context.Background(), raw); err != nil {
		t.Fatalf("non-retryable error should ack: %v", err)
	}
	if len(dlq.records) != 1 {
		t.Fatalf("dlq: %+v", dlq.records)
	}
}
