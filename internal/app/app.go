// Package app 组装各进程共用的存储、服务和处理器
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"go.uber.org/zap"

	"mailpilot/config"
	"mailpilot/internal/approval"
	"mailpilot/internal/auth"
	"mailpilot/internal/completion"
	"mailpilot/internal/handler"
	"mailpilot/internal/httpserver"
	"mailpilot/internal/jobs"
	"mailpilot/internal/llm"
	"mailpilot/internal/mailbox"
	"mailpilot/internal/mqhandler"
	"mailpilot/internal/people"
	"mailpilot/internal/report"
	"mailpilot/internal/repository"
	"mailpilot/internal/scheduler"
	"mailpilot/internal/settings"
	"mailpilot/internal/summary"
	"mailpilot/internal/syncer"
	"mailpilot/internal/tasks"
	"mailpilot/internal/triage"
	"mailpilot/pkg/db"
	"mailpilot/pkg/outbox"
)

// OpenStore 按 storage.driver 打开数据库并执行迁移
func OpenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (db.Conn, error) {
	var (
		conn db.Conn
		err  error
	)
	switch cfg.Storage.Driver {
	case "sqlite":
		conn, err = db.OpenSQLite(cfg.Storage.SQLitePath, logger)
	default:
		conn, err = db.NewConnection(cfg.DB, logger)
	}
	if err != nil {
		return nil, err
	}
	if err := repository.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return conn, nil
}

// App holds the wired services of one process.
type App struct {
	Config *config.Config
	Conn   db.Conn
	Events *outbox.Repository
	Logger *zap.Logger

	Users        *repository.UserRepository
	Settings     *settings.Service
	Auth         *auth.Service
	Tasks        *tasks.Service
	People       *people.Registry
	Approvals    *approval.Engine
	Orchestrator *syncer.Orchestrator
	Summaries    *summary.Generator
	Reports      *report.Service

	// OAuth is nil when no Gmail client credentials are configured.
	OAuth    *mailbox.OAuthProvider
	Accounts *mailbox.AccountCache
}

func New(cfg *config.Config, conn db.Conn, gen llm.Generator, logger *zap.Logger) (*App, error) {
	loc := cfg.Location()
	events := outbox.NewRepository(conn)

	users := repository.NewUserRepository(conn)
	taskRepo := repository.NewTaskRepository(conn)
	settingsSvc := settings.NewService(repository.NewSettingsRepository(conn), cfg.LLM.Model, logger)
	taskSvc := tasks.NewService(conn, events, cfg.Sync.ArchiveAfterDays, logger)
	registry := people.NewRegistry(repository.NewPersonRepository(conn), taskRepo, logger)
	approvals := approval.NewEngine(conn, gen, settingsSvc, events, logger)

	router := triage.NewEngine(conn, gen, cfg.LLM.TriageModel,
		tasks.NewExtractor(gen, settingsSvc, logger), approvals, registry, loc, logger)
	scanner := completion.NewScanner(conn, events, cfg.Sync.MaxSentItems, loc, logger)
	orch := syncer.NewOrchestrator(conn, router, taskSvc, scanner, settingsSvc, events, cfg.Sync.MaxEmailsPerSync, loc, logger)

	synth := summary.NewCommandSynthesizer(cfg.Summary.AudioCommand, cfg.Summary.AudioDir)

	a := &App{
		Config:       cfg,
		Conn:         conn,
		Events:       events,
		Logger:       logger,
		Users:        users,
		Settings:     settingsSvc,
		Auth:         auth.NewService(users, cfg.JWT.Secret, cfg.JWT.TTL, logger),
		Tasks:        taskSvc,
		People:       registry,
		Approvals:    approvals,
		Orchestrator: orch,
		Summaries:    summary.NewGenerator(conn, gen, settingsSvc, synth, cfg.Summary.KeepDays, loc, logger),
		Reports:      report.NewService(conn, gen, settingsSvc, cfg.Sync.SLAResponseDays, loc, logger),
	}

	var opener mailbox.Opener = disconnected{}
	raw, err := readCredentials(cfg.Mailbox.CredentialsFile)
	switch {
	case err != nil:
		return nil, err
	case raw == nil:
		logger.Warn("mailbox credentials not found, mailbox features disabled",
			zap.String("credentials_file", cfg.Mailbox.CredentialsFile))
	default:
		a.OAuth, err = mailbox.NewOAuthProvider(raw, cfg.Mailbox.RedirectURL, users, logger)
		if err != nil {
			return nil, err
		}
		opener = a.OAuth
	}
	a.Accounts = mailbox.NewAccountCache(opener, 0)
	return a, nil
}

// readCredentials returns nil, nil when no credentials file is present.
func readCredentials(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read mailbox credentials: %w", err)
	}
	return raw, nil
}

type disconnected struct{}

func (disconnected) Open(context.Context, int64) (mailbox.Client, error) {
	return nil, mailbox.ErrNotConnected
}

// Router 组装 HTTP 路由，jobs 为同步/简报作业的投递端
func (a *App) Router(enq *jobs.Enqueuer, replay handler.Replayer) *httpserver.Router {
	loc := a.Config.Location()
	var oauth handler.OAuthFlow
	if a.OAuth != nil {
		oauth = a.OAuth
	}
	h := httpserver.Handlers{
		Auth:      handler.NewAuthHandler(a.Auth, a.Accounts, a.Logger),
		Tasks:     handler.NewTaskHandler(a.Tasks, a.Accounts, a.Logger),
		Sync:      handler.NewSyncHandler(a.Orchestrator, enq, a.Settings, a.Accounts, loc, a.Logger),
		Circle:    handler.NewCircleHandler(a.People, a.Accounts, a.Config.Sync.MaxEmailsPerSync, loc, a.Logger),
		Summaries: handler.NewSummaryHandler(a.Summaries, enq, a.Logger),
		Reports:   handler.NewReportHandler(a.Reports, a.Logger),
		Settings:  handler.NewSettingsHandler(a.Settings, a.Logger),
		Approvals: handler.NewApprovalHandler(a.Approvals, a.Accounts, a.Logger),
		Mailbox:   handler.NewMailboxHandler(oauth, a.Users, a.Accounts, a.Logger),
		Admin:     handler.NewAdminHandler(replay, a.Logger),
	}
	return httpserver.NewRouter(h, a.Auth, a.Conn, a.Logger)
}

// Scheduler 构建周期任务；scheduled_user_id 为 0 时只做清理和简报
func (a *App) Scheduler(enq *jobs.Enqueuer) *scheduler.Scheduler {
	cfg := scheduler.Config{
		UserID:       int64(a.Config.Sync.ScheduledUserID),
		SyncInterval: a.Config.Sync.Interval,
		DefaultDays:  a.Config.Sync.DefaultSyncDays,
		BriefingHour: a.Config.Summary.BriefingHour,
		Location:     a.Config.Location(),
	}
	return scheduler.New(cfg, enq, a.Settings, a.Tasks, a.Summaries, a.Logger)
}

func (a *App) SyncWorker(opts mqhandler.Options) *mqhandler.SyncHandler {
	return mqhandler.NewSyncHandler(a.Accounts, a.Orchestrator, opts, a.Logger)
}

func (a *App) SummaryWorker(opts mqhandler.Options) *mqhandler.SummaryHandler {
	return mqhandler.NewSummaryHandler(a.Summaries, opts, a.Logger)
}
