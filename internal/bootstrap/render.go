// Package bootstrap assembles the rendering stack shared by the api and worker binaries.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"cvforge/internal/browser"
	"cvforge/internal/cache"
	"cvforge/internal/config"
	"cvforge/internal/export"
	"cvforge/internal/metrics"
	"cvforge/internal/render"
	"cvforge/internal/storage"
)

// RenderStack is everything needed to turn a request into a PDF.
type RenderStack struct {
	Pool     *browser.Pool
	Cache    *cache.Cache
	Exporter *export.Exporter
	// Storage is nil unless MinIO is configured.
	Storage *storage.Client
}

// NewRedis connects to the configured Redis server and verifies it answers.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr()})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr(), err)
	}
	return client, nil
}

// NewRenderStack wires pool, renderer, cache and exporter. redisClient may be nil when
// the shared cache tier is disabled. The pool is started eagerly so a missing browser
// is reported at boot; callers own Pool.Shutdown.
func NewRenderStack(ctx context.Context, cfg *config.Config, redisClient *redis.Client, logger *slog.Logger) (*RenderStack, error) {
	stack := &RenderStack{}

	opts := render.DefaultOptions(cfg.Render.PreviewBaseURL)
	opts.NavigationTimeout = cfg.Render.NavigationTimeout
	opts.RendezvousTimeout = cfg.Render.RendezvousTimeout
	opts.SettleDelay = cfg.Render.SettleDelay
	opts.Logger = logger

	if cfg.MinIO.Enabled() {
		storageClient, err := storage.NewClient(ctx, cfg.MinIO)
		if err != nil {
			return nil, fmt.Errorf("init storage client: %w", err)
		}
		stack.Storage = storageClient
		opts.Diagnostics = storageClient
		logger.Info("render diagnostics enabled", slog.String("bucket", cfg.MinIO.Bucket))
	}

	renderer, err := render.NewRenderer(opts)
	if err != nil {
		return nil, fmt.Errorf("init renderer: %w", err)
	}

	cacheOpts := cache.Options{
		TTL:        cfg.Cache.TTL,
		MaxEntries: cfg.Cache.MaxEntries,
		Logger:     logger,
	}
	if cfg.Cache.Shared && redisClient != nil {
		cacheOpts.Shared = cache.NewRedisStore(redisClient)
	}
	stack.Cache = cache.New(cacheOpts)

	stack.Pool = browser.NewPool(browser.RodLauncher{
		Bin:       cfg.Pool.BrowserBin,
		NoSandbox: cfg.Pool.NoSandbox,
		Logger:    logger,
	}, cfg.Pool.Size, logger)
	metrics.RegisterPool(prometheus.DefaultRegisterer, stack.Pool.Stats)

	if err := stack.Pool.Start(ctx); err != nil {
		_ = stack.Pool.Shutdown()
		return nil, fmt.Errorf("start browser pool: %w", err)
	}

	stack.Exporter = export.New(
		export.PoolAdapter{Pool: stack.Pool},
		renderer,
		stack.Cache,
		export.WithRecorder(metrics.ExportRecorder{}),
		export.WithLogger(logger),
	)
	return stack, nil
}
