// Package export turns render requests into PDF bytes, serving repeats from the document cache.
package export

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"cvforge/internal/browser"
	"cvforge/internal/cache"
	"cvforge/internal/correlation"
	"cvforge/internal/render"
)

// Request is the immutable input of Export.
type Request = render.Request

// Lease is a held reference to a pooled engine.
type Lease interface {
	Engine() browser.Engine
	Release()
}

// Pool hands out engine leases.
type Pool interface {
	Acquire(ctx context.Context) (Lease, error)
}

// Renderer runs one page session on an engine.
type Renderer interface {
	Render(ctx context.Context, engine browser.Engine, req Request) ([]byte, error)
}

// Cache stores finished documents.
type Cache interface {
	Lookup(ctx context.Context, key string) ([]byte, bool)
	Store(ctx context.Context, key string, payload []byte)
}

// Recorder receives export measurements.
type Recorder interface {
	CacheLookup(hit bool)
	RenderFinished(template string, outcome string, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) CacheLookup(bool)                             {}
func (nopRecorder) RenderFinished(string, string, time.Duration) {}

// Exporter orchestrates cache, pool and renderer.
type Exporter struct {
	pool     Pool
	renderer Renderer
	cache    Cache
	recorder Recorder
	logger   *slog.Logger
}

// Option customises an Exporter.
type Option func(*Exporter)

// WithRecorder reports cache and render measurements to r.
func WithRecorder(r Recorder) Option {
	return func(x *Exporter) {
		if r != nil {
			x.recorder = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(x *Exporter) {
		if l != nil {
			x.logger = l
		}
	}
}

func New(pool Pool, renderer Renderer, c Cache, opts ...Option) *Exporter {
	x := &Exporter{
		pool:     pool,
		renderer: renderer,
		cache:    c,
		recorder: nopRecorder{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(x)
	}
	x.logger = x.logger.With(slog.String("component", "exporter"))
	return x
}

// Key returns the cache key Export uses for req.
func Key(req Request) string {
	return cache.Key(req.Data, req.Template)
}

// Export returns the PDF for req. A cached document is returned without touching the pool.
// Failures are never cached and never retried here.
func (x *Exporter) Export(ctx context.Context, req Request) ([]byte, error) {
	if !req.Template.Supported() {
		return nil, render.UnsupportedTemplateError(string(req.Template), nil)
	}

	key := Key(req)
	logger := x.logger.With(
		slog.String("correlation_id", correlation.From(ctx)),
		slog.String("template", string(req.Template)),
		slog.String("key", key),
	)

	if payload, ok := x.cache.Lookup(ctx, key); ok {
		x.recorder.CacheLookup(true)
		logger.Info("returning cached document", slog.Int("bytes", len(payload)))
		return payload, nil
	}
	x.recorder.CacheLookup(false)

	start := time.Now()
	pdf, err := x.render(ctx, req)
	x.recorder.RenderFinished(string(req.Template), outcome(err), time.Since(start))
	if err != nil {
		logger.Error("document export failed", slog.Any("error", err))
		return nil, err
	}

	x.cache.Store(ctx, key, pdf)
	return pdf, nil
}

func (x *Exporter) render(ctx context.Context, req Request) ([]byte, error) {
	lease, err := x.pool.Acquire(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &render.Error{Kind: render.KindCanceled, Op: "render.acquire", Message: "waiting for browser engine aborted", Err: err}
		}
		return nil, render.PoolInitializationError(err)
	}
	defer lease.Release()

	return x.renderer.Render(ctx, lease.Engine(), req)
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	if kind, ok := render.KindOf(err); ok {
		return string(kind)
	}
	if errors.Is(err, context.Canceled) {
		return string(render.KindCanceled)
	}
	return "error"
}

// PoolAdapter exposes a *browser.Pool through the Pool interface.
type PoolAdapter struct {
	Pool *browser.Pool
}

func (a PoolAdapter) Acquire(ctx context.Context) (Lease, error) {
	lease, err := a.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return lease, nil
}
