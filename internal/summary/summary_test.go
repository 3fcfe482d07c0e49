package summary

import (
	"context"
	"errors"
	"strings"
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

type recordingSynth struct {
	text string
	err  error
}

func (r *recordingSynth) Synthesize(_ context.Context, id int64, text string) (string, error) {
	r.text = text
	if r.err != nil {
		return "", r.err
	}
	return "briefing.mp3", nil
}

var gst = time.FixedZone("GST", 4*3600)

func newTestGenerator(t *testing.T, gen *llmtest.Scripted, synth Synthesizer) (*Generator, *repository.SummaryRepository) {
	t.Helper()
	conn, err := db.OpenSQLite(":memory:", nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(conn.Close)
	if err := repository.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	g := NewGenerator(conn, gen, fixedModel("smart"), synth, 7, gst, zap.NewNop())
	g.now = func() time.Time { return time.Date(2026, 3, 10, 21, 0, 0, 0, time.UTC) }
	return g, repository.NewSummaryRepository(conn)
}

func seed(t *testing.T, repo *repository.SummaryRepository, date string, snippets ...model.Snippet) *model.DailySummary {
	t.Helper()
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := repo.AppendSnippets(ctx, date, snippets, at); err != nil {
		t.Fatalf("append: %v", err)
	}
	s, err := repo.Ensure(ctx, date, at)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	return s
}

func TestGenerateEmptyDay(t *testing.T) {
	gen := &llmtest.Scripted{Default: llmtest.Text("should not be used")}
	g, repo := newTestGenerator(t, gen, nil)
	s := seed(t, repo, "2026-03-09")

	got, err := g.Generate(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got.Content != EmptyContent || got.Status != model.SummaryGenerated {
		t.Fatalf("unexpected summary: %+v", got)
	}
	if len(gen.Requests) != 0 {
		t.Fatalf("model called for empty day")
	}
}

func TestGenerateUsesModelAndAudio(t *testing.T) {
	gen := &llmtest.Scripted{Default: llmtest.Text("**Morning** - two updates")}
	synth := &recordingSynth{}
	g, repo := newTestGenerator(t, gen, synth)
	s := seed(t, repo, "2026-03-09",
		model.Snippet{Sender: "Alice", Subject: "Release", Snippet: "Shipped v2"},
		model.Snippet{Snippet: "Office closed Friday"},
	)

	got, err := g.Generate(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got.Content != "**Morning** - two updates" || got.AudioPath != "briefing.mp3" {
		t.Fatalf("unexpected summary: %+v", got)
	}
	if synth.text != "Morning  two updates" {
		t.Fatalf("speech text %q", synth.text)
	}

	prompt := gen.Requests[0].Prompt
	want := "- From: Alice | Subject: Release | Body: Shipped v2\n- From: Unknown | Subject: No Subject | Body: Office closed Friday\n"
	if prompt != want {
		t.Fatalf("corpus:\n%q\nwant\n%q", prompt, want)
	}

	stored, _ := repo.GetByID(context.Background(), s.ID)
	if stored.Status != model.SummaryGenerated || stored.GeneratedAt == nil {
		t.Fatalf("not persisted: %+v", stored)
	}
}

func TestGenerateFallsBackToRawUpdates(t *testing.T) {
	gen := &llmtest.Scripted{Default: llmtest.Fail()}
	synth := &recordingSynth{err: errors.New("tts down")}
	g, repo := newTestGenerator(t, gen, synth)
	s := seed(t, repo, "2026-03-09", model.Snippet{Sender: "Ops", Subject: "Maintenance", Snippet: "Tonight 22:00"})

	got, err := g.Generate(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(got.Content, "Could not generate AI summary. Raw updates:\n- From: Ops") {
		t.Fatalf("content %q", got.Content)
	}
	if got.AudioPath != "" || got.Status != model.SummaryGenerated {
		t.Fatalf("audio failure should not fail generation: %+v", got)
	}
}

func TestListEnsuresToday(t *testing.T) {
	g, repo := newTestGenerator(t, &llmtest.Scripted{}, nil)
	seed(t, repo, "2026-03-01", model.Snippet{Snippet: "too old"})
	seed(t, repo, "2026-03-05", model.Snippet{Snippet: "recent"})

	list, err := g.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	// 21:00 UTC is already the 11th in GST.
	if len(list) != 2 || list[0].Date != "2026-03-11" || list[1].Date != "2026-03-05" {
		for _, s := range list {
			t.Logf("%s", s.Date)
		}
		t.Fatalf("unexpected list of %d", len(list))
	}
}

func TestMarkGeneratingReset(t *testing.T) {
	g, repo := newTestGenerator(t, &llmtest.Scripted{Default: llmtest.Text("done")}, nil)
	s := seed(t, repo, "2026-03-09", model.Snippet{Snippet: "x"})
	if _, err := g.Generate(context.Background(), s.ID); err != nil {
		t.Fatal(err)
	}

	got, err := g.MarkGenerating(context.Background(), s.ID, true)
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	stored, _ := repo.GetByID(context.Background(), got.ID)
	if stored.Status != model.SummaryGenerating || stored.Content != "" {
		t.Fatalf("not reset: %+v", stored)
	}

	if _, err := g.MarkGenerating(context.Background(), 999, false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNewCommandSynthesizerDisabled(t *testing.T) {
	if NewCommandSynthesizer("  ", "") != nil {
		t.Fatal("empty command should disable audio")
	}
}
