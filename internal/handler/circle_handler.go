package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailpilot/internal/model"
	"mailpilot/internal/people"
	"mailpilot/internal/syncer"
)

type CircleHandler struct {
	registry  *people.Registry
	accounts  MailboxSource
	maxEmails int
	loc       *time.Location
	logger    *zap.Logger
}

func NewCircleHandler(registry *people.Registry, accounts MailboxSource, maxEmails int, loc *time.Location, logger *zap.Logger) *CircleHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &CircleHandler{registry: registry, accounts: accounts, maxEmails: maxEmails, loc: loc, logger: logger}
}

// List GET /api/circle?search=&role=
func (h *CircleHandler) List(c *gin.Context) {
	list, err := h.registry.List(c.Request.Context(), c.Query("search"), c.Query("role"))
	if err != nil {
		storeError(c, h.logger, "list circle", err)
		return
	}
	c.JSON(http.StatusOK, list)
}

type personRequest struct {
	Email          *string `json:"email"`
	Name           *string `json:"name"`
	JobTitle       *string `json:"job_title"`
	Department     *string `json:"department"`
	OfficeLocation *string `json:"office_location"`
	ManagerName    *string `json:"manager_name"`
	ManualRole     *string `json:"manual_role"`
	Notes          *string `json:"notes"`
	Hidden         *bool   `json:"is_hidden"`
}

func (r personRequest) apply(p *model.Person) {
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}
	set(&p.Name, r.Name)
	set(&p.JobTitle, r.JobTitle)
	set(&p.Department, r.Department)
	set(&p.OfficeLocation, r.OfficeLocation)
	set(&p.ManagerName, r.ManagerName)
	set(&p.ManualRole, r.ManualRole)
	set(&p.Notes, r.Notes)
	if r.Hidden != nil {
		p.Hidden = *r.Hidden
	}
}

// Add POST /api/circle
func (h *CircleHandler) Add(c *gin.Context) {
	var req personRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == nil || strings.TrimSpace(*req.Email) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email is required"})
		return
	}
	p := &model.Person{Email: *req.Email}
	req.apply(p)
	if err := h.registry.Add(c.Request.Context(), p); err != nil {
		if errors.Is(err, people.ErrContactExists) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Contact exists"})
			return
		}
		storeError(c, h.logger, "add contact", err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// Update PUT /api/circle/:id
func (h *CircleHandler) Update(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req personRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	p, err := h.registry.Get(c.Request.Context(), id)
	if err != nil {
		storeError(c, h.logger, "load contact", err)
		return
	}
	req.apply(p)
	if err := h.registry.Update(c.Request.Context(), p); err != nil {
		storeError(c, h.logger, "update contact", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// Hide DELETE /api/circle/:id
func (h *CircleHandler) Hide(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.registry.Hide(c.Request.Context(), id); err != nil {
		storeError(c, h.logger, "hide contact", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "hidden"})
}

// Profile GET /api/circle/:id/profile
func (h *CircleHandler) Profile(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	p, err := h.registry.Profile(c.Request.Context(), id)
	if err != nil {
		storeError(c, h.logger, "contact profile", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type rangeRequest struct {
	StartDate string `json:"start_date" binding:"required"`
	EndDate   string `json:"end_date" binding:"required"`
}

// Scan POST /api/circle/scan 只更新联系人，不做分拣
func (h *CircleHandler) Scan(c *gin.Context) {
	var req rangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start_date and end_date are required"})
		return
	}
	w, err := syncer.RangeWindow(req.StartDate, req.EndDate, h.loc)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	mb, ok := openMailbox(c, h.accounts, h.logger)
	if !ok {
		return
	}
	n, err := h.registry.Scan(c.Request.Context(), mb, w, h.maxEmails)
	if err != nil {
		h.logger.Error("Circle scan failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "mailbox fetch failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"scanned": n})
}
