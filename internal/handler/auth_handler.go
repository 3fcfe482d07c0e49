package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailpilot/internal/auth"
)

// AccountInvalidator drops a cached mailbox connection.
type AccountInvalidator interface {
	Invalidate(userID int64)
}

type AuthHandler struct {
	auth     *auth.Service
	accounts AccountInvalidator
	logger   *zap.Logger
}

func NewAuthHandler(svc *auth.Service, accounts AccountInvalidator, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{auth: svc, accounts: accounts, logger: logger}
}

type credentials struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	FullName string `json:"full_name"`
}

// Register POST /register
func (h *AuthHandler) Register(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	u, err := h.auth.Register(c.Request.Context(), req.Email, req.Password, req.FullName)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrEmailExists):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, auth.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			storeError(c, h.logger, "register", err)
		}
		return
	}
	c.JSON(http.StatusCreated, u)
}

// Login POST /login
func (h *AuthHandler) Login(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	token, u, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		storeError(c, h.logger, "login", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user": u})
}

// Logout POST /api/logout
// token 无状态，这里只清理邮箱连接缓存
func (h *AuthHandler) Logout(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	h.accounts.Invalidate(userID)
	c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}
