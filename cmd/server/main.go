// Command server 单进程模式：API、作业执行、outbox 与定时任务共用一个进程，
// 作业走进程内队列，不依赖 RabbitMQ 和 Redis
package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailpilot/config"
	mqcontract "mailpilot/contracts/mq"
	"mailpilot/internal/app"
	"mailpilot/internal/jobs"
	"mailpilot/internal/llm"
	"mailpilot/internal/mqhandler"
	"mailpilot/pkg/logger"
	"mailpilot/pkg/otel"
	"mailpilot/pkg/outbox"
)

var version = "dev"

const (
	queueSize    = 256
	queueWorkers = 2
)

func main() {
	cfg := config.MustLoad()
	logger := logger.NewLogger(cfg.Env)
	defer logger.Sync()

	shutdown, err := otel.Init(cfg.Otel, version, logger)
	if err != nil {
		logger.Fatal("OpenTelemetry init failed", zap.Error(err))
	}
	defer shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("DB initialization failed", zap.Error(err))
	}
	defer conn.Close()

	a, err := app.New(cfg, conn, llm.NewOllamaClient(cfg.LLM, logger), logger)
	if err != nil {
		logger.Fatal("App initialization failed", zap.Error(err))
	}

	queue := jobs.NewLocalQueue(queueSize, logger)
	queue.Handle(mqcontract.RoutingSyncRequested, a.SyncWorker(mqhandler.Options{}).Handle)
	queue.Handle(mqcontract.RoutingSummaryRequested, a.SummaryWorker(mqhandler.Options{}).Handle)
	enq := jobs.NewEnqueuer(queue, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return queue.Start(ctx, queueWorkers) })
	g.Go(func() error { return a.Scheduler(enq).Start(ctx) })

	// 领域事件没有进程内订阅者，dispatcher 只负责把 outbox 标记为已发送
	dispatcher := outbox.NewDispatcher(a.Events, queue, logger)
	g.Go(func() error {
		dispatcher.Start(ctx)
		return nil
	})

	router := a.Router(enq, outbox.NewReplayService(a.Events, queue, logger))
	go func() {
		logger.Info("Starting server", zap.String("port", cfg.Server.Port), zap.String("storage", cfg.Storage.Driver))
		if err := router.Run(cfg.Server.Port); err != nil {
			logger.Error("server stopped", zap.Error(err))
			stop()
		}
	}()

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
	logger.Info("Shutting down")
}
