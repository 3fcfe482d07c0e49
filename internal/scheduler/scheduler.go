// Package scheduler 周期性触发增量同步、归档清理与每日简报
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailpilot/internal/mailbox"
	"mailpilot/internal/model"
	"mailpilot/internal/syncer"
)

const (
	defaultSyncInterval = 15 * time.Minute
	sweepInterval       = time.Hour
	briefingTick        = time.Minute
)

type SyncEnqueuer interface {
	EnqueueSync(ctx context.Context, userID int64, w mailbox.Window, suppressWatermark bool, trigger string) (string, error)
	EnqueueSummary(ctx context.Context, summaryID int64, date string) (string, error)
}

type Watermark interface {
	LastSync(ctx context.Context) (time.Time, bool)
}

type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

type Briefings interface {
	EnsureToday(ctx context.Context) (*model.DailySummary, error)
	MarkGenerating(ctx context.Context, id int64, reset bool) (*model.DailySummary, error)
}

type Config struct {
	UserID       int64
	SyncInterval time.Duration
	DefaultDays  int
	BriefingHour int
	Location     *time.Location
}

type Scheduler struct {
	cfg       Config
	jobs      SyncEnqueuer
	watermark Watermark
	sweeper   Sweeper
	briefings Briefings
	now       func() time.Time
	logger    *zap.Logger

	lastBriefing string
}

func New(cfg Config, jobs SyncEnqueuer, watermark Watermark, sweeper Sweeper, briefings Briefings, logger *zap.Logger) *Scheduler {
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = defaultSyncInterval
	}
	if cfg.DefaultDays <= 0 {
		cfg.DefaultDays = 3
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Scheduler{
		cfg:       cfg,
		jobs:      jobs,
		watermark: watermark,
		sweeper:   sweeper,
		briefings: briefings,
		now:       time.Now,
		logger:    logger,
	}
}

// Start blocks until ctx is cancelled. Each loop runs once immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("Scheduler started",
		zap.Int64("user_id", s.cfg.UserID),
		zap.Duration("sync_interval", s.cfg.SyncInterval),
		zap.Int("briefing_hour", s.cfg.BriefingHour),
	)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return every(ctx, s.cfg.SyncInterval, s.RunSync) })
	g.Go(func() error { return every(ctx, sweepInterval, s.RunSweep) })
	g.Go(func() error { return every(ctx, briefingTick, s.RunBriefing) })
	err := g.Wait()
	s.logger.Info("Scheduler stopped")
	return err
}

func every(ctx context.Context, d time.Duration, fn func(context.Context)) error {
	fn(ctx)
	ticker := time.NewTicker(d)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// RunSync enqueues an incremental sync from the last watermark.
func (s *Scheduler) RunSync(ctx context.Context) {
	if s.cfg.UserID == 0 {
		return
	}
	last, ok := s.watermark.LastSync(ctx)
	w := syncer.IncrementalWindow(last, ok, s.now().UTC(), s.cfg.DefaultDays)
	if _, err := s.jobs.EnqueueSync(ctx, s.cfg.UserID, w, false, syncer.TriggerScheduled); err != nil {
		s.logger.Error("Failed to enqueue scheduled sync", zap.Error(err))
	}
}

func (s *Scheduler) RunSweep(ctx context.Context) {
	n, err := s.sweeper.Sweep(ctx)
	if err != nil {
		s.logger.Error("Archive sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("Archived closed tasks", zap.Int64("count", n))
	}
}

// RunBriefing enqueues today's briefing once the configured hour is reached.
// Summaries already generated or in progress are left alone.
func (s *Scheduler) RunBriefing(ctx context.Context) {
	now := s.now().In(s.cfg.Location)
	today := now.Format(model.DateLayout)
	if now.Hour() < s.cfg.BriefingHour || s.lastBriefing == today {
		return
	}

	sum, err := s.briefings.EnsureToday(ctx)
	if err != nil {
		s.logger.Error("Failed to prepare daily briefing", zap.Error(err))
		return
	}
	s.lastBriefing = today
	if sum.Status == model.SummaryGenerated || sum.Status == model.SummaryGenerating {
		return
	}
	if _, err := s.briefings.MarkGenerating(ctx, sum.ID, false); err != nil {
		s.logger.Error("Failed to mark briefing generating", zap.Error(err))
		return
	}
	if _, err := s.jobs.EnqueueSummary(ctx, sum.ID, sum.Date); err != nil {
		s.logger.Error("Failed to enqueue daily briefing", zap.Error(err))
		s.lastBriefing = ""
	}
}
