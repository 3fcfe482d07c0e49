package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailpilot/internal/report"
)

type ReportHandler struct {
	reports *report.Service
	logger  *zap.Logger
}

func NewReportHandler(reports *report.Service, logger *zap.Logger) *ReportHandler {
	return &ReportHandler{reports: reports, logger: logger}
}

// Weekly POST /api/reports/weekly
func (h *ReportHandler) Weekly(c *gin.Context) {
	var req rangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start_date and end_date are required"})
		return
	}
	w, err := h.reports.Weekly(c.Request.Context(), req.StartDate, req.EndDate)
	if err != nil {
		h.reportError(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

// Consolidated POST /api/reports/consolidated
func (h *ReportHandler) Consolidated(c *gin.Context) {
	var req rangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start_date and end_date are required"})
		return
	}
	out, err := h.reports.Consolidated(c.Request.Context(), req.StartDate, req.EndDate)
	if err != nil {
		h.reportError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *ReportHandler) reportError(c *gin.Context, err error) {
	if errors.Is(err, report.ErrInvalidRange) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	storeError(c, h.logger, "report", err)
}
