package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// OAuthFlow is satisfied by *mailbox.OAuthProvider.
type OAuthFlow interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (string, error)
}

type TokenStore interface {
	UpdateMailboxToken(ctx context.Context, id int64, token string) error
}

type MailboxHandler struct {
	oauth    OAuthFlow
	users    TokenStore
	accounts AccountInvalidator
	logger   *zap.Logger
}

func NewMailboxHandler(oauth OAuthFlow, users TokenStore, accounts AccountInvalidator, logger *zap.Logger) *MailboxHandler {
	return &MailboxHandler{oauth: oauth, users: users, accounts: accounts, logger: logger}
}

// AuthURL GET /api/mailbox/auth-url
func (h *MailboxHandler) AuthURL(c *gin.Context) {
	if h.oauth == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "mailbox provider not configured"})
		return
	}
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": h.oauth.AuthURL(strconv.FormatInt(userID, 10))})
}

type callbackRequest struct {
	Code string `json:"code" binding:"required"`
}

// Callback POST /api/mailbox/callback
func (h *MailboxHandler) Callback(c *gin.Context) {
	if h.oauth == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "mailbox provider not configured"})
		return
	}
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	var req callbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code is required"})
		return
	}
	token, err := h.oauth.Exchange(c.Request.Context(), req.Code)
	if err != nil {
		h.logger.Warn("OAuth exchange failed", zap.Int64("user_id", userID), zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "authorization failed"})
		return
	}
	if err := h.users.UpdateMailboxToken(c.Request.Context(), userID, token); err != nil {
		storeError(c, h.logger, "store mailbox token", err)
		return
	}
	h.accounts.Invalidate(userID)
	h.logger.Info("Mailbox connected", zap.Int64("user_id", userID))
	c.JSON(http.StatusOK, gin.H{"status": "connected"})
}
