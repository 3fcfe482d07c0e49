package outbox

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// ReplayService 供管理接口手动重发事件
type ReplayService struct {
	repo      *Repository
	publisher Publisher
	logger    *zap.Logger
}

func NewReplayService(repo *Repository, publisher Publisher, logger *zap.Logger) *ReplayService {
	return &ReplayService{repo: repo, publisher: publisher, logger: logger}
}

// ReplayEvent resets the event's retry budget and publishes it right away.
// If the publish fails again the dispatcher keeps retrying it as pending.
func (s *ReplayService) ReplayEvent(ctx context.Context, eventID int64) error {
	if err := s.repo.ResetEvent(ctx, eventID); err != nil {
		return err
	}
	e, err := s.repo.GetEventByID(ctx, eventID)
	if err != nil {
		return err
	}
	if err := deliver(ctx, s.repo, s.publisher, e, DefaultMaxRetries); err != nil {
		return err
	}
	s.logger.Info("Outbox event replayed", zap.Int64("event_id", eventID), zap.String("routing_key", e.RoutingKey))
	return nil
}

// ReplayFailedEvents 重放 failed 状态的事件，返回成功数量
func (s *ReplayService) ReplayFailedEvents(ctx context.Context, limit int) (int, error) {
	events, err := s.repo.GetFailedEvents(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list failed events: %w", err)
	}

	replayed := 0
	for _, e := range events {
		if err := s.ReplayEvent(ctx, e.ID); err != nil {
			s.logger.Warn("Replay failed", zap.Int64("event_id", e.ID), zap.Error(err))
			continue
		}
		replayed++
	}
	return replayed, nil
}
