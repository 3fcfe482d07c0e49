// Package summary 生成每日简报：把当天的 INFO 片段交给模型汇总，可选合成音频
package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"mailpilot/internal/llm"
	"mailpilot/internal/model"
	"mailpilot/internal/repository"
	"mailpilot/pkg/db"
	"mailpilot/pkg/otel"
)

const (
	EmptyContent    = "No significant updates found for this day."
	fallbackPrefix  = "Could not generate AI summary. Raw updates:\n"
	fallbackExcerpt = 500
	defaultKeepDays = 7
)

var ErrNotFound = errors.New("summary not found")

// ModelSource 返回当前使用的模型名
type ModelSource interface {
	Model(ctx context.Context) string
}

// Synthesizer turns briefing text into an audio file and returns its name.
type Synthesizer interface {
	Synthesize(ctx context.Context, summaryID int64, text string) (string, error)
}

type Generator struct {
	summaries *repository.SummaryRepository
	gen       llm.Generator
	models    ModelSource
	synth     Synthesizer
	zone      string
	keepDays  int
	loc       *time.Location
	now       func() time.Time
	logger    *zap.Logger
}

// NewGenerator wires the briefing generator. synth may be nil to skip audio.
func NewGenerator(conn db.Conn, gen llm.Generator, models ModelSource, synth Synthesizer, keepDays int, loc *time.Location, logger *zap.Logger) *Generator {
	if keepDays <= 0 {
		keepDays = defaultKeepDays
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Generator{
		summaries: repository.NewSummaryRepository(conn),
		gen:       gen,
		models:    models,
		synth:     synth,
		zone:      zoneLabel(loc),
		keepDays:  keepDays,
		loc:       loc,
		now:       time.Now,
		logger:    logger,
	}
}

// Today 返回配置时区下的今天
func (g *Generator) Today() string {
	return g.now().In(g.loc).Format(model.DateLayout)
}

// List returns the last keepDays summaries, newest first, making sure today
// has a row even when nothing was collected yet.
func (g *Generator) List(ctx context.Context) ([]*model.DailySummary, error) {
	now := g.now().In(g.loc)
	if _, err := g.summaries.Ensure(ctx, now.Format(model.DateLayout), now.UTC()); err != nil {
		return nil, fmt.Errorf("ensure today summary: %w", err)
	}
	from := now.AddDate(0, 0, -g.keepDays).Format(model.DateLayout)
	return g.summaries.ListSince(ctx, from)
}

func (g *Generator) Get(ctx context.Context, id int64) (*model.DailySummary, error) {
	s, err := g.summaries.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	return s, err
}

// EnsureToday 返回今天的汇总行，供定时简报使用
func (g *Generator) EnsureToday(ctx context.Context) (*model.DailySummary, error) {
	return g.EnsureDate(ctx, g.Today())
}

func (g *Generator) EnsureDate(ctx context.Context, date string) (*model.DailySummary, error) {
	if _, err := time.Parse(model.DateLayout, date); err != nil {
		return nil, fmt.Errorf("invalid summary date %q: %w", date, err)
	}
	return g.summaries.Ensure(ctx, date, g.now().UTC())
}

// MarkGenerating flags a summary as in progress. With reset the previous
// content and audio are cleared first.
func (g *Generator) MarkGenerating(ctx context.Context, id int64, reset bool) (*model.DailySummary, error) {
	s, err := g.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.Status = model.SummaryGenerating
	if reset {
		s.Content = ""
		s.AudioPath = ""
		s.GeneratedAt = nil
		err = g.summaries.SaveResult(ctx, s)
	} else {
		err = g.summaries.SetStatus(ctx, id, model.SummaryGenerating)
	}
	if err != nil {
		return nil, fmt.Errorf("mark summary %d generating: %w", id, err)
	}
	return s, nil
}

// Generate builds the briefing for one summary row. Model failures fall back
// to the raw updates; storage failures mark the row failed with the error text.
func (g *Generator) Generate(ctx context.Context, id int64) (result *model.DailySummary, err error) {
	ctx, span := otel.StartSpan(ctx, "summary.generate", attribute.Int64("summary.id", id))
	defer func() { otel.EndSpan(span, err) }()

	s, err := g.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	log := g.logger.With(zap.Int64("summary_id", id), zap.String("date", s.Date))

	now := g.now().UTC()
	s.GeneratedAt = &now
	s.Status = model.SummaryGenerated
	s.AudioPath = ""

	if len(s.Snippets) == 0 {
		s.Content = EmptyContent
		if err := g.summaries.SaveResult(ctx, s); err != nil {
			return nil, g.fail(ctx, s, err)
		}
		return s, nil
	}

	corpus := BuildCorpus(s.Snippets)
	text, ok := g.gen.Generate(ctx, llm.SummaryRequest(g.models.Model(ctx), corpus, g.zone))
	if !ok || strings.TrimSpace(text) == "" {
		log.Warn("summary model unavailable, using raw updates")
		text = fallbackPrefix + truncate(corpus, fallbackExcerpt) + "..."
	}
	s.Content = text

	if g.synth != nil {
		path, err := g.synth.Synthesize(ctx, s.ID, speechText(text))
		if err != nil {
			log.Error("audio generation failed", zap.Error(err))
		} else {
			s.AudioPath = path
		}
	}

	if err := g.summaries.SaveResult(ctx, s); err != nil {
		return nil, g.fail(ctx, s, err)
	}
	log.Info("summary generated", zap.Int("snippets", len(s.Snippets)), zap.Bool("audio", s.AudioPath != ""))
	return s, nil
}

func (g *Generator) fail(ctx context.Context, s *model.DailySummary, cause error) error {
	s.Status = model.SummaryFailed
	s.Content = cause.Error()
	s.AudioPath = ""
	if err := g.summaries.SaveResult(ctx, s); err != nil {
		g.logger.Error("failed to mark summary failed", zap.Int64("summary_id", s.ID), zap.Error(err))
	}
	return fmt.Errorf("generate summary %d: %w", s.ID, cause)
}

// BuildCorpus formats snippets one per line for the summarizer prompt.
func BuildCorpus(snippets []model.Snippet) string {
	var b strings.Builder
	for _, s := range snippets {
		sender := s.Sender
		if sender == "" {
			sender = "Unknown"
		}
		subject := s.Subject
		if subject == "" {
			subject = "No Subject"
		}
		fmt.Fprintf(&b, "- From: %s | Subject: %s | Body: %s\n", sender, subject, s.Snippet)
	}
	return b.String()
}

// speechText 去掉 markdown 符号，便于朗读
func speechText(s string) string {
	return strings.NewReplacer("*", "", "#", "", "-", "").Replace(s)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func zoneLabel(loc *time.Location) string {
	if loc == time.UTC {
		return ""
	}
	_, offset := time.Now().In(loc).Zone()
	return fmt.Sprintf("%s (GMT%+d)", loc.String(), offset/3600)
}
