package main

import (
	"context"

	"go.uber.org/zap"

	"mailpilot/config"
	"mailpilot/internal/app"
	"mailpilot/internal/jobs"
	"mailpilot/internal/llm"
	"mailpilot/pkg/logger"
	"mailpilot/pkg/mq"
	"mailpilot/pkg/otel"
	"mailpilot/pkg/outbox"
)

var version = "dev"

func main() {
	// Load config
	cfg := config.MustLoad()

	logger := logger.NewLogger(cfg.Env)
	defer logger.Sync()

	shutdown, err := otel.Init(cfg.Otel, version, logger)
	if err != nil {
		logger.Fatal("OpenTelemetry init failed", zap.Error(err))
	}
	defer shutdown()

	// Init DB
	conn, err := app.OpenStore(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("DB initialization failed", zap.Error(err))
	}
	defer conn.Close()

	// Init MQ Publisher
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		logger.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	a, err := app.New(cfg, conn, llm.NewOllamaClient(cfg.LLM, logger), logger)
	if err != nil {
		logger.Fatal("App initialization failed", zap.Error(err))
	}

	replay := outbox.NewReplayService(a.Events, publisher, logger)
	router := a.Router(jobs.NewEnqueuer(publisher, logger), replay)

	logger.Info("Starting API", zap.String("port", cfg.Server.Port), zap.String("storage", cfg.Storage.Driver))
	if err := router.Run(cfg.Server.Port); err != nil {
		logger.Fatal("server start failed", zap.Error(err))
	}
}
