package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailpilot/internal/mailbox"
	"mailpilot/internal/syncer"
)

const manualSyncLookback = 24 * time.Hour

type SyncRunner interface {
	Run(ctx context.Context, mb mailbox.Client, req syncer.Request) syncer.Result
}

type SyncEnqueuer interface {
	EnqueueSync(ctx context.Context, userID int64, w mailbox.Window, suppressWatermark bool, trigger string) (string, error)
}

type WatermarkReader interface {
	LastSync(ctx context.Context) (time.Time, bool)
}

type SyncHandler struct {
	runner    SyncRunner
	jobs      SyncEnqueuer
	watermark WatermarkReader
	accounts  MailboxSource
	loc       *time.Location
	now       func() time.Time
	logger    *zap.Logger
}

func NewSyncHandler(runner SyncRunner, jobs SyncEnqueuer, watermark WatermarkReader, accounts MailboxSource, loc *time.Location, logger *zap.Logger) *SyncHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &SyncHandler{
		runner:    runner,
		jobs:      jobs,
		watermark: watermark,
		accounts:  accounts,
		loc:       loc,
		now:       time.Now,
		logger:    logger,
	}
}

// Sync POST /api/sync 同步最近 24 小时，同步执行
func (h *SyncHandler) Sync(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	mb, ok := openMailbox(c, h.accounts, h.logger)
	if !ok {
		return
	}
	end := h.now().UTC()
	res := h.runner.Run(c.Request.Context(), mb, syncer.Request{
		UserID:  userID,
		Window:  mailbox.Window{Start: end.Add(-manualSyncLookback), End: end},
		Trigger: syncer.TriggerManual,
	})
	status := http.StatusOK
	if !res.Success {
		status = http.StatusInternalServerError
	}
	c.JSON(status, res)
}

type historicalRequest struct {
	Date string `json:"date" binding:"required"`
}

// Historical POST /api/sync/historical 回填某一天，不推进 watermark
func (h *SyncHandler) Historical(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	var req historicalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date is required"})
		return
	}
	w, err := syncer.DayWindow(req.Date, h.loc)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date, expected YYYY-MM-DD"})
		return
	}
	id, err := h.jobs.EnqueueSync(c.Request.Context(), userID, w, true, syncer.TriggerHistorical)
	if err != nil {
		storeError(c, h.logger, "enqueue historical sync", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "request_id": id, "date": req.Date})
}

// Status GET /api/status
func (h *SyncHandler) Status(c *gin.Context) {
	last, ok := h.watermark.LastSync(c.Request.Context())
	if !ok {
		c.JSON(http.StatusOK, gin.H{"last_sync_time": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"last_sync_time": last.In(h.loc).Format(time.RFC3339)})
}
