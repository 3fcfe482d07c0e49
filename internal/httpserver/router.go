package httpserver

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"mailpilot/internal/handler"
	"mailpilot/pkg/otel"
	"mailpilot/pkg/rbac"
)

// Pinger 用于 readiness 检查
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers groups every resource handler the router mounts.
type Handlers struct {
	Auth      *handler.AuthHandler
	Tasks     *handler.TaskHandler
	Sync      *handler.SyncHandler
	Circle    *handler.CircleHandler
	Summaries *handler.SummaryHandler
	Reports   *handler.ReportHandler
	Settings  *handler.SettingsHandler
	Approvals *handler.ApprovalHandler
	Mailbox   *handler.MailboxHandler
	Admin     *handler.AdminHandler
}

type Router struct {
	Engine *gin.Engine
}

func NewRouter(h Handlers, verifier TokenVerifier, db Pinger, logger *zap.Logger) *Router {
	r := gin.New()
	r.Use(gin.Recovery(), TraceMiddleware(), otel.GinMiddleware(), RequestLogger(logger))

	// Health endpoints (放在最前面)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(200)
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			c.JSON(500, gin.H{"status": "db_not_ready", "error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public
	r.POST("/register", h.Auth.Register)
	r.POST("/login", h.Auth.Login)

	// Protected
	api := r.Group("/api")
	api.Use(AuthMiddleware(verifier))
	{
		api.POST("/logout", h.Auth.Logout)

		api.GET("/tasks", h.Tasks.List)
		api.GET("/tasks/archived", h.Tasks.Archived)
		api.PUT("/tasks/:id", RequirePermission(rbac.PermissionUpdateTask), h.Tasks.Update)
		api.DELETE("/tasks/:id", RequirePermission(rbac.PermissionDeleteTask), h.Tasks.Delete)
		api.GET("/tasks/:id/email", h.Tasks.Email)
		api.POST("/tasks/:id/reply", RequirePermission(rbac.PermissionUpdateTask), h.Tasks.Reply)

		api.POST("/sync", RequirePermission(rbac.PermissionSync), h.Sync.Sync)
		api.POST("/sync/historical", RequirePermission(rbac.PermissionSync), h.Sync.Historical)
		api.GET("/status", h.Sync.Status)

		api.GET("/circle", h.Circle.List)
		api.POST("/circle", RequirePermission(rbac.PermissionManageCircle), h.Circle.Add)
		api.POST("/circle/scan", RequirePermission(rbac.PermissionManageCircle), h.Circle.Scan)
		api.PUT("/circle/:id", RequirePermission(rbac.PermissionManageCircle), h.Circle.Update)
		api.DELETE("/circle/:id", RequirePermission(rbac.PermissionManageCircle), h.Circle.Hide)
		api.GET("/circle/:id/profile", h.Circle.Profile)

		api.GET("/summaries", h.Summaries.List)
		api.POST("/summaries/generate/:id", h.Summaries.Generate)
		api.POST("/summaries/regenerate/:id", h.Summaries.Regenerate)

		api.POST("/reports/weekly", h.Reports.Weekly)
		api.POST("/reports/consolidated", h.Reports.Consolidated)

		api.GET("/settings", h.Settings.Get)
		api.POST("/settings", RequirePermission(rbac.PermissionSettings), h.Settings.Update)

		api.GET("/approvals/count", h.Approvals.Count)
		api.GET("/approvals/feed", h.Approvals.Feed)
		api.GET("/approvals/history", h.Approvals.History)
		api.POST("/approvals/:id/action", RequirePermission(rbac.PermissionDecide), h.Approvals.Action)
		api.GET("/approvals/:id/audit", h.Approvals.Audit)
		api.DELETE("/approvals/:id", RequirePermission(rbac.PermissionDeleteRequest), h.Approvals.Delete)

		api.GET("/mailbox/auth-url", h.Mailbox.AuthURL)
		api.POST("/mailbox/callback", h.Mailbox.Callback)
	}

	admin := r.Group("/admin")
	admin.Use(AuthMiddleware(verifier), RequirePermission(rbac.PermissionReplayOutbox))
	{
		admin.POST("/outbox/replay", h.Admin.ReplayOutboxEvent)
		admin.POST("/outbox/replay-failed", h.Admin.ReplayFailedEvents)
	}

	return &Router{Engine: r}
}

func (r *Router) Run(addr string) error {
	return r.Engine.Run(addr)
}
