package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailpilot/internal/approval"
	"mailpilot/internal/mailbox"
	"mailpilot/pkg/logger"
)

type ApprovalHandler struct {
	engine   *approval.Engine
	accounts MailboxSource
	logger   *zap.Logger
}

func NewApprovalHandler(engine *approval.Engine, accounts MailboxSource, logger *zap.Logger) *ApprovalHandler {
	return &ApprovalHandler{engine: engine, accounts: accounts, logger: logger}
}

// Count GET /api/approvals/count
func (h *ApprovalHandler) Count(c *gin.Context) {
	n, err := h.engine.PendingCount(c.Request.Context())
	if err != nil {
		storeError(c, h.logger, "count approvals", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

// Feed GET /api/approvals/feed
func (h *ApprovalHandler) Feed(c *gin.Context) {
	list, err := h.engine.Feed(c.Request.Context())
	if err != nil {
		storeError(c, h.logger, "approval feed", err)
		return
	}
	c.JSON(http.StatusOK, list)
}

type actionRequest struct {
	Action string `json:"action"`
	Notes  string `json:"notes"`
}

// Action POST /api/approvals/:id/action
func (h *ApprovalHandler) Action(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": approval.MsgInvalidAction})
		return
	}
	userID, ok := getUserID(c)
	if !ok {
		return
	}

	// 未连接邮箱时仍可决策没有来源邮件的请求，由引擎判断是否需要回信
	mb, err := h.accounts.Get(c.Request.Context(), userID)
	if err != nil && !errors.Is(err, mailbox.ErrNotConnected) {
		logger.WithTrace(c.Request.Context(), h.logger).Error("Failed to open mailbox", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "mailbox unavailable"})
		return
	}

	success, msg := h.engine.ExecuteAction(c.Request.Context(), mb, id, req.Action, req.Notes)
	switch {
	case success:
		c.JSON(http.StatusOK, gin.H{"success": true, "message": msg})
	case msg == approval.MsgInvalidAction:
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": msg})
	case msg == approval.MsgNotFound:
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": msg})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": msg})
	}
}

// History GET /api/approvals/history?limit=50
func (h *ApprovalHandler) History(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}
	list, err := h.engine.History(c.Request.Context(), limit)
	if err != nil {
		storeError(c, h.logger, "approval history", err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// Audit GET /api/approvals/:id/audit
func (h *ApprovalHandler) Audit(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	logs, err := h.engine.Audit(c.Request.Context(), id)
	if err != nil {
		storeError(c, h.logger, "approval audit", err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

// Delete DELETE /api/approvals/:id
func (h *ApprovalHandler) Delete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.engine.Delete(c.Request.Context(), id); err != nil {
		storeError(c, h.logger, "delete approval", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
