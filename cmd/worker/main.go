package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailpilot/config"
	mqcontract "mailpilot/contracts/mq"
	"mailpilot/internal/app"
	"mailpilot/internal/jobs"
	"mailpilot/internal/llm"
	"mailpilot/internal/mqhandler"
	"mailpilot/pkg/logger"
	"mailpilot/pkg/mq"
	"mailpilot/pkg/otel"
	"mailpilot/pkg/outbox"
	"mailpilot/pkg/redis"
	"mailpilot/pkg/util"
)

var version = "dev"

func main() {
	cfg := config.MustLoad()
	logger := logger.NewLogger(cfg.Env)
	defer logger.Sync()

	logger.Info("Starting worker...")

	shutdown, err := otel.Init(cfg.Otel, version, logger)
	if err != nil {
		logger.Fatal("OpenTelemetry init failed", zap.Error(err))
	}
	defer shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis
	rdb, err := redis.NewRedisClient(cfg.Redis)
	if err != nil {
		logger.Fatal("Redis connection failed", zap.Error(err))
	}
	defer rdb.Close()

	opts := mqhandler.Options{
		Deduper: util.NewDeduper(rdb, time.Hour, logger),
		Retries: util.NewRetryCounter(rdb, time.Hour),
	}

	// DB
	conn, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("DB connection failed", zap.Error(err))
	}
	defer conn.Close()

	logger.Info("DB ready")

	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		logger.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()
	opts.DLQ = publisher

	a, err := app.New(cfg, conn, llm.NewOllamaClient(cfg.LLM, logger), logger)
	if err != nil {
		logger.Fatal("App initialization failed", zap.Error(err))
	}

	g, ctx := errgroup.WithContext(ctx)

	// -------------------------
	// Job consumers
	// -------------------------
	consumers := []struct {
		queue   string
		key     string
		handler mq.MessageHandler
	}{
		{"sync.requested.q", mqcontract.RoutingSyncRequested, a.SyncWorker(opts).Handle},
		{"summary.requested.q", mqcontract.RoutingSummaryRequested, a.SummaryWorker(opts).Handle},
	}
	for _, c := range consumers {
		logger.Info("Init consumer", zap.String("queue", c.queue))
		consumer, err := mq.NewConsumer(cfg.MQ.URL, c.queue, c.key, logger)
		if err != nil {
			logger.Fatal("Consumer init failed", zap.String("queue", c.queue), zap.Error(err))
		}
		defer consumer.Close()
		consumer.SetHandler(c.handler)
		g.Go(func() error { return consumer.StartConsuming(ctx) })
	}

	// -------------------------
	// Outbox dispatcher + scheduler
	// -------------------------
	dispatcher := outbox.NewDispatcher(a.Events, publisher, logger)
	g.Go(func() error {
		dispatcher.Start(ctx)
		return nil
	})
	sched := a.Scheduler(jobs.NewEnqueuer(publisher, logger))
	g.Go(func() error { return sched.Start(ctx) })

	logger.Info("Worker is ready to process messages")
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Fatal("Worker stopped", zap.Error(err))
	}
	logger.Info("Worker stopped")
}
