package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailpilot/pkg/logger"
	"mailpilot/pkg/outbox"
)

// Replayer is satisfied by *outbox.ReplayService.
type Replayer interface {
	ReplayEvent(ctx context.Context, eventID int64) error
	ReplayFailedEvents(ctx context.Context, limit int) (int, error)
}

type AdminHandler struct {
	replay Replayer
	logger *zap.Logger
}

func NewAdminHandler(replay Replayer, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{replay: replay, logger: logger}
}

const (
	defaultReplayLimit = 100
	maxReplayLimit     = 500
)

// ReplayOutboxEvent POST /admin/outbox/replay?id=
// 重置该事件的重试次数并立即发布
func (h *AdminHandler) ReplayOutboxEvent(c *gin.Context) {
	eventID, err := strconv.ParseInt(c.Query("id"), 10, 64)
	if err != nil || eventID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id parameter"})
		return
	}

	if err := h.replay.ReplayEvent(c.Request.Context(), eventID); err != nil {
		if errors.Is(err, outbox.ErrEventNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
			return
		}
		logger.WithTrace(c.Request.Context(), h.logger).Error("Outbox replay failed", zap.Int64("event_id", eventID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to replay event", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "replayed", "event_id": eventID})
}

// ReplayFailedEvents POST /admin/outbox/replay-failed?limit=
func (h *AdminHandler) ReplayFailedEvents(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultReplayLimit)))
	if err != nil || limit <= 0 {
		limit = defaultReplayLimit
	}
	limit = min(limit, maxReplayLimit)

	n, err := h.replay.ReplayFailedEvents(c.Request.Context(), limit)
	if err != nil {
		storeError(c, h.logger, "replay failed events", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "completed", "replayed": n, "limit": limit})
}
