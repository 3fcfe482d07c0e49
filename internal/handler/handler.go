// Package handler 实现 HTTP API 的各资源处理函数
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailpilot/internal/mailbox"
	"mailpilot/internal/repository"
	"mailpilot/pkg/logger"
)

// Context keys set by the auth middleware.
const (
	CtxUserID = "user_id"
	CtxRole   = "role"
)

// MailboxSource resolves the connected mailbox of a user.
type MailboxSource interface {
	Get(ctx context.Context, userID int64) (mailbox.Client, error)
}

// getUserID 读取中间件写入的 user_id
func getUserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(CtxUserID)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return 0, false
	}
	id, ok := v.(int64)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid user_id"})
		return 0, false
	}
	return id, true
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

// openMailbox returns the caller's mailbox or writes the error response.
func openMailbox(c *gin.Context, accounts MailboxSource, log *zap.Logger) (mailbox.Client, bool) {
	userID, ok := getUserID(c)
	if !ok {
		return nil, false
	}
	mb, err := accounts.Get(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, mailbox.ErrNotConnected) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "mailbox not connected"})
			return nil, false
		}
		logger.WithTrace(c.Request.Context(), log).Error("Failed to open mailbox", zap.Int64("user_id", userID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "mailbox unavailable"})
		return nil, false
	}
	return mb, true
}

// storeError maps repository errors onto HTTP statuses.
func storeError(c *gin.Context, log *zap.Logger, op string, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, repository.ErrDuplicate):
		c.JSON(http.StatusConflict, gin.H{"error": "already exists"})
	default:
		logger.WithTrace(c.Request.Context(), log).Error("Request failed", zap.String("op", op), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
