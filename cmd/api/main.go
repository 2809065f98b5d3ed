package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	_ "go.uber.org/automaxprocs"

	"cvforge/internal/api"
	"cvforge/internal/assistant"
	"cvforge/internal/bootstrap"
	"cvforge/internal/config"
	"cvforge/internal/upload"
)

const shutdownTimeout = 15 * time.Second

func main() {
	flags := config.Flags("api")
	if err := flags.Parse(os.Args[1:]); err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	cfg := config.MustLoad(flags)

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		client, err := bootstrap.NewRedis(ctx, cfg.Redis)
		if err != nil {
			log.Fatalf("init redis: %v", err)
		}
		redisClient = client
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error("close redis client failed", slog.Any("error", err))
			}
		}()
	}

	stack, err := bootstrap.NewRenderStack(ctx, cfg, redisClient, logger)
	if err != nil {
		log.Fatalf("init render stack: %v", err)
	}
	stack.Pool.HandleSignals(ctx)

	deps := api.Dependencies{
		Exporter: stack.Exporter,
		Cache:    stack.Cache,
	}
	if stack.Storage != nil {
		deps.Diagnostics = stack.Storage
	}
	if redisClient != nil {
		deps.RateCounter = redisClient
	}
	if cfg.PrewarmEnabled() {
		deps.Enqueuer = asynq.NewClientFromRedisClient(redisClient)
		deps.Subscriber = api.RedisSubscriber{Client: redisClient}
	} else if redisClient != nil {
		logger.Warn("prewarm disabled: set CACHE_SHARED=true so worker renders reach this process")
	}
	if cfg.Assistant.Enabled() {
		a, err := assistant.NewAzure(cfg.Assistant, logger)
		if err != nil {
			log.Fatalf("init assistant: %v", err)
		}
		deps.Assistant = a
	}
	if cfg.Upload.ClamdAddr != "" {
		deps.Scanner = upload.NewClamdScanner(cfg.Upload.ClamdAddr)
	}

	router := api.NewRouter(logger, stack.Pool.Stats)
	api.RegisterRoutes(router, cfg, deps, logger)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening",
			slog.String("addr", server.Addr),
			slog.String("preview_base_url", cfg.Render.PreviewBaseURL),
			slog.Int("pool_size", cfg.Pool.Size),
			slog.Bool("redis", redisClient != nil),
			slog.Bool("prewarm", cfg.PrewarmEnabled()),
			slog.Bool("assistant", cfg.Assistant.Enabled()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("api server stopped", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown http server failed", slog.Any("error", err))
	}
	if err := stack.Pool.Shutdown(); err != nil {
		logger.Error("shutdown browser pool failed", slog.Any("error", err))
	}
}
