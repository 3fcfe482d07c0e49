package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailpilot/internal/mailbox"
	"mailpilot/internal/model"
	"mailpilot/internal/tasks"
)

type TaskHandler struct {
	tasks    *tasks.Service
	accounts MailboxSource
	logger   *zap.Logger
}

func NewTaskHandler(svc *tasks.Service, accounts MailboxSource, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{tasks: svc, accounts: accounts, logger: logger}
}

// List GET /api/tasks
func (h *TaskHandler) List(c *gin.Context) {
	list, err := h.tasks.List(c.Request.Context())
	if err != nil {
		storeError(c, h.logger, "list tasks", err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// Archived GET /api/tasks/archived?search=
func (h *TaskHandler) Archived(c *gin.Context) {
	list, err := h.tasks.Archived(c.Request.Context(), c.Query("search"))
	if err != nil {
		storeError(c, h.logger, "list archived", err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// Update PUT /api/tasks/:id
func (h *TaskHandler) Update(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var p tasks.Patch
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	t, err := h.tasks.Update(c.Request.Context(), id, p)
	if err != nil {
		if errors.Is(err, tasks.ErrInvalidStatus) || errors.Is(err, tasks.ErrInvalidCategory) || errors.Is(err, model.ErrInvalidTransition) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		storeError(c, h.logger, "update task", err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// Delete DELETE /api/tasks/:id
func (h *TaskHandler) Delete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.tasks.Delete(c.Request.Context(), id); err != nil {
		storeError(c, h.logger, "delete task", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// Email GET /api/tasks/:id/email
func (h *TaskHandler) Email(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	mb, ok := openMailbox(c, h.accounts, h.logger)
	if !ok {
		return
	}
	msg, err := h.tasks.Email(c.Request.Context(), mb, id)
	if err != nil {
		if errors.Is(err, mailbox.ErrItemNotFound) || errors.Is(err, tasks.ErrNoMessage) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Email not found on server"})
			return
		}
		storeError(c, h.logger, "load email", err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

type replyRequest struct {
	Body string `json:"reply_body" binding:"required"`
	Type string `json:"reply_type"`
}

// Reply POST /api/tasks/:id/reply
func (h *TaskHandler) Reply(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req replyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reply_body is required"})
		return
	}
	mb, ok := openMailbox(c, h.accounts, h.logger)
	if !ok {
		return
	}
	t, err := h.tasks.Reply(c.Request.Context(), mb, id, req.Body, req.Type)
	if err != nil {
		switch {
		case errors.Is(err, tasks.ErrEmptyReply), errors.Is(err, model.ErrInvalidTransition):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, mailbox.ErrItemNotFound), errors.Is(err, tasks.ErrNoMessage):
			c.JSON(http.StatusNotFound, gin.H{"error": "Email not found on server"})
		default:
			storeError(c, h.logger, "reply", err)
		}
		return
	}
	c.JSON(http.StatusOK, t)
}
