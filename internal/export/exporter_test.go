package export

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cvforge/internal/browser"
	"cvforge/internal/cache"
	"cvforge/internal/layout"
	"cvforge/internal/render"
	"cvforge/internal/resume"
)

type fakeLease struct {
	released *atomic.Int32
}

func (l fakeLease) Engine() browser.Engine { return nil }
func (l fakeLease) Release()               { l.released.Add(1) }

type fakePool struct {
	acquired atomic.Int32
	released atomic.Int32
	err      error
}

func (p *fakePool) Acquire(context.Context) (Lease, error) {
	p.acquired.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	return fakeLease{released: &p.released}, nil
}

type fakeRenderer struct {
	calls atomic.Int32
	err   error
}

func (r *fakeRenderer) Render(_ context.Context, _ browser.Engine, req Request) ([]byte, error) {
	r.calls.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	return []byte("%PDF-" + string(req.Template)), nil
}

type countingRecorder struct {
	mu       sync.Mutex
	hits     int
	misses   int
	outcomes []string
}

func (r *countingRecorder) CacheLookup(hit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hit {
		r.hits++
	} else {
		r.misses++
	}
}

func (r *countingRecorder) RenderFinished(_ string, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func request(template layout.Template) Request {
	return Request{
		Data:     resume.Resume{PersonalInfo: resume.PersonalInfo{FullName: "Katherine Johnson"}},
		Template: template,
	}
}

func TestExportCachesSuccessfulRenders(t *testing.T) {
	t.Parallel()

	pool := &fakePool{}
	renderer := &fakeRenderer{}
	recorder := &countingRecorder{}
	x := New(pool, renderer, cache.New(cache.Options{}), WithRecorder(recorder))
	ctx := context.Background()

	first, err := x.Export(ctx, request(layout.Minimal))
	if err != nil {
		t.Fatalf("first export: %v", err)
	}
	second, err := x.Export(ctx, request(layout.Minimal))
	if err != nil {
		t.Fatalf("second export: %v", err)
	}

	if string(first) != string(second) {
		t.Fatalf("cached payload differs from rendered payload")
	}
	if renderer.calls.Load() != 1 || pool.acquired.Load() != 1 {
		t.Fatalf("cache hit must bypass the pool, renders=%d acquires=%d", renderer.calls.Load(), pool.acquired.Load())
	}
	if pool.released.Load() != 1 {
		t.Fatalf("expected lease released once, got %d", pool.released.Load())
	}
	if recorder.hits != 1 || recorder.misses != 1 {
		t.Fatalf("unexpected cache counts hits=%d misses=%d", recorder.hits, recorder.misses)
	}
}

func TestExportDifferentTemplatesRenderSeparately(t *testing.T) {
	t.Parallel()

	renderer := &fakeRenderer{}
	x := New(&fakePool{}, renderer, cache.New(cache.Options{}))

	for _, tpl := range layout.All() {
		if _, err := x.Export(context.Background(), request(tpl)); err != nil {
			t.Fatalf("export %s: %v", tpl, err)
		}
	}
	if renderer.calls.Load() != int32(len(layout.All())) {
		t.Fatalf("expected one render per template, got %d", renderer.calls.Load())
	}
}

func TestExportRejectsUnsupportedTemplateBeforeAcquire(t *testing.T) {
	t.Parallel()

	pool := &fakePool{}
	x := New(pool, &fakeRenderer{}, cache.New(cache.Options{}))

	_, err := x.Export(context.Background(), request(layout.Template("brutalist")))
	if kind, _ := render.KindOf(err); kind != render.KindUnsupportedTemplate {
		t.Fatalf("expected unsupported template, got %v", err)
	}
	if pool.acquired.Load() != 0 {
		t.Fatalf("pool must not be touched for an unsupported template")
	}
}

func TestExportFailureIsNotCached(t *testing.T) {
	t.Parallel()

	pool := &fakePool{}
	renderer := &fakeRenderer{err: &render.Error{Kind: render.KindTimeout, Message: "not ready"}}
	c := cache.New(cache.Options{})
	x := New(pool, renderer, c)

	if _, err := x.Export(context.Background(), request(layout.Classic)); err == nil {
		t.Fatalf("expected failure")
	}
	if c.Len() != 0 {
		t.Fatalf("failures must not be cached")
	}
	if pool.released.Load() != 1 {
		t.Fatalf("lease must be released after a failed render")
	}

	renderer.err = nil
	if _, err := x.Export(context.Background(), request(layout.Classic)); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if renderer.calls.Load() != 2 {
		t.Fatalf("expected a fresh render after failure, got %d calls", renderer.calls.Load())
	}
}

func TestExportWrapsPoolFailure(t *testing.T) {
	t.Parallel()

	pool := &fakePool{err: &browser.LaunchError{Err: errors.New("no chromium")}}
	renderer := &fakeRenderer{}
	x := New(pool, renderer, cache.New(cache.Options{}))

	_, err := x.Export(context.Background(), request(layout.Classic))
	var rerr *render.Error
	if !errors.As(err, &rerr) || rerr.Kind != render.KindPoolInit {
		t.Fatalf("expected pool initialization error, got %v", err)
	}
	var launchErr *browser.LaunchError
	if !errors.As(err, &launchErr) {
		t.Fatalf("expected launch error in the chain")
	}
	if renderer.calls.Load() != 0 {
		t.Fatalf("renderer must not run without an engine")
	}
}

func TestExportCancelledWhileAcquiring(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pool := &fakePool{err: context.Canceled}
	x := New(pool, &fakeRenderer{}, cache.New(cache.Options{}))

	_, err := x.Export(ctx, request(layout.Classic))
	if kind, _ := render.KindOf(err); kind != render.KindCanceled {
		t.Fatalf("expected canceled, got %v", err)
	}
}

func TestKeyMatchesCacheKey(t *testing.T) {
	t.Parallel()

	req := request(layout.Modern)
	if Key(req) != cache.Key(req.Data, req.Template) {
		t.Fatalf("export key must match cache key")
	}
}
