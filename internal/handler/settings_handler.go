package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailpilot/internal/settings"
)

type SettingsHandler struct {
	settings *settings.Service
	logger   *zap.Logger
}

func NewSettingsHandler(svc *settings.Service, logger *zap.Logger) *SettingsHandler {
	return &SettingsHandler{settings: svc, logger: logger}
}

// Get GET /api/settings
func (h *SettingsHandler) Get(c *gin.Context) {
	snap, err := h.settings.Snapshot(c.Request.Context())
	if err != nil {
		storeError(c, h.logger, "load settings", err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Update POST /api/settings
func (h *SettingsHandler) Update(c *gin.Context) {
	var u settings.Update
	if err := c.ShouldBindJSON(&u); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if err := h.settings.Apply(c.Request.Context(), u); err != nil {
		storeError(c, h.logger, "save settings", err)
		return
	}
	h.Get(c)
}
