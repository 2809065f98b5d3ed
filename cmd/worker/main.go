package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	_ "go.uber.org/automaxprocs"

	"cvforge/internal/bootstrap"
	"cvforge/internal/config"
	"cvforge/internal/metrics"
	"cvforge/internal/tasks"
	"cvforge/internal/worker"
)

func main() {
	flags := config.Flags("worker")
	if err := flags.Parse(os.Args[1:]); err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	cfg := config.MustLoad(flags)

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if !cfg.PrewarmEnabled() {
		log.Fatalf("worker requires REDIS_HOST and CACHE_SHARED=true")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient, err := bootstrap.NewRedis(ctx, cfg.Redis)
	if err != nil {
		log.Fatalf("init redis: %v", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()

	stack, err := bootstrap.NewRenderStack(ctx, cfg, redisClient, logger)
	if err != nil {
		log.Fatalf("init render stack: %v", err)
	}
	defer func() {
		if err := stack.Pool.Shutdown(); err != nil {
			logger.Error("shutdown browser pool failed", slog.Any("error", err))
		}
	}()

	server := asynq.NewServer(asynq.RedisClientOpt{Addr: cfg.Redis.Addr()}, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		Logger:      newAsynqLogger(logger),
	})

	prewarmHandler := worker.NewPrewarmTaskHandler(stack.Exporter, redisClient, logger)

	mux := asynq.NewServeMux()
	mux.Use(metrics.AsynqMetricsMiddleware())
	mux.Handle(tasks.TypePDFPrewarm, prewarmHandler)

	logger.Info("worker service started",
		slog.String("redis_addr", cfg.Redis.Addr()),
		slog.Int("concurrency", cfg.Worker.Concurrency),
		slog.Int("pool_size", cfg.Pool.Size),
	)
	if err := server.Start(mux); err != nil {
		logger.Error("worker server failed to start", slog.Any("error", err))
		return
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")
	server.Shutdown()
}
