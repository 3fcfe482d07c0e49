package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailpilot/internal/summary"
)

type SummaryEnqueuer interface {
	EnqueueSummary(ctx context.Context, summaryID int64, date string) (string, error)
}

type SummaryHandler struct {
	summaries *summary.Generator
	jobs      SummaryEnqueuer
	logger    *zap.Logger
}

func NewSummaryHandler(summaries *summary.Generator, jobs SummaryEnqueuer, logger *zap.Logger) *SummaryHandler {
	return &SummaryHandler{summaries: summaries, jobs: jobs, logger: logger}
}

// List GET /api/summaries
func (h *SummaryHandler) List(c *gin.Context) {
	list, err := h.summaries.List(c.Request.Context())
	if err != nil {
		storeError(c, h.logger, "list summaries", err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// Generate POST /api/summaries/generate/:id
func (h *SummaryHandler) Generate(c *gin.Context) { h.start(c, false) }

// Regenerate POST /api/summaries/regenerate/:id
func (h *SummaryHandler) Regenerate(c *gin.Context) { h.start(c, true) }

func (h *SummaryHandler) start(c *gin.Context, reset bool) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	s, err := h.summaries.MarkGenerating(c.Request.Context(), id, reset)
	if err != nil {
		if errors.Is(err, summary.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Summary not found"})
			return
		}
		storeError(c, h.logger, "mark summary", err)
		return
	}
	reqID, err := h.jobs.EnqueueSummary(c.Request.Context(), s.ID, s.Date)
	if err != nil {
		storeError(c, h.logger, "enqueue summary", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": s.Status, "summary": s, "request_id": reqID})
}
