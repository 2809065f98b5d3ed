package browser

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var _ Launcher = (*fakeLauncher)(nil)
var _ Engine = (*fakeEngine)(nil)

type fakeEngine struct {
	id        int
	connected atomic.Bool
	closed    atomic.Int32
	closeErr  error
}

func (e *fakeEngine) Connected(context.Context) bool { return e.connected.Load() }

func (e *fakeEngine) NewPage(context.Context) (Page, error) {
	return nil, errors.New("not implemented")
}

func (e *fakeEngine) Close() error {
	e.closed.Add(1)
	e.connected.Store(false)
	return e.closeErr
}

type fakeLauncher struct {
	mu       sync.Mutex
	ctxs     []context.Context
	engines  []*fakeEngine
	failures int
	delay    time.Duration
	calls    atomic.Int32
}

func (l *fakeLauncher) Launch(ctx context.Context) (Engine, error) {
	l.calls.Add(1)
	if l.delay > 0 {
		select {
		case <-time.After(l.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.ctxs = append(l.ctxs, ctx)
	if l.failures > 0 {
		l.failures--
		return nil, errors.New("chromium not found")
	}
	e := &fakeEngine{id: len(l.engines)}
	e.connected.Store(true)
	l.engines = append(l.engines, e)
	return e, nil
}

func (l *fakeLauncher) launched() []*fakeEngine {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*fakeEngine(nil), l.engines...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPoolStartSharesOneLaunch(t *testing.T) {
	t.Parallel()

	launcher := &fakeLauncher{delay: 20 * time.Millisecond}
	pool := NewPool(launcher, 2, discardLogger())
	t.Cleanup(func() { _ = pool.Shutdown() })

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pool.Start(context.Background()); err != nil {
				t.Errorf("start: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := launcher.calls.Load(); got != 1 {
		t.Fatalf("expected a single launch, got %d", got)
	}
	if st := pool.Stats(); st.Engines != 1 {
		t.Fatalf("expected one engine after start, got %+v", st)
	}
}

func TestPoolStartRetriesAfterFailure(t *testing.T) {
	t.Parallel()

	launcher := &fakeLauncher{failures: 1}
	pool := NewPool(launcher, 2, discardLogger())
	t.Cleanup(func() { _ = pool.Shutdown() })

	err := pool.Start(context.Background())
	var launchErr *LaunchError
	if !errors.As(err, &launchErr) {
		t.Fatalf("expected LaunchError, got %v", err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("second start should succeed, got %v", err)
	}
	if got := launcher.calls.Load(); got != 2 {
		t.Fatalf("expected two launch attempts, got %d", got)
	}
}

func TestPoolAcquireSharesConnectedEngine(t *testing.T) {
	t.Parallel()

	launcher := &fakeLauncher{}
	pool := NewPool(launcher, 2, discardLogger())
	t.Cleanup(func() { _ = pool.Shutdown() })

	first, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	second, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if first.Engine() != second.Engine() {
		t.Fatalf("expected the connected engine to be shared")
	}
	if st := pool.Stats(); st.Leases != 2 || st.Engines != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}

	first.Release()
	first.Release()
	second.Release()
	if st := pool.Stats(); st.Leases != 0 {
		t.Fatalf("expected all leases released, got %+v", st)
	}
	if launcher.launched()[0].closed.Load() != 0 {
		t.Fatalf("release must not close a healthy engine")
	}
}

func TestPoolNeverExceedsCapacity(t *testing.T) {
	t.Parallel()

	launcher := &fakeLauncher{delay: 5 * time.Millisecond}
	pool := NewPool(launcher, 2, discardLogger())
	t.Cleanup(func() { _ = pool.Shutdown() })

	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := pool.Acquire(context.Background())
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			if i%5 == 0 {
				lease.Engine().(*fakeEngine).connected.Store(false)
			}
			if st := pool.Stats(); st.Engines+st.Launching > st.Size {
				t.Errorf("pool over capacity: %+v", st)
			}
			lease.Release()
		}()
	}
	wg.Wait()

	if st := pool.Stats(); st.Engines > 2 {
		t.Fatalf("pool tracks %d engines, capacity is 2", st.Engines)
	}
}

func TestPoolFillsEmptySlotWhenEngineDies(t *testing.T) {
	t.Parallel()

	launcher := &fakeLauncher{}
	pool := NewPool(launcher, 2, discardLogger())
	t.Cleanup(func() { _ = pool.Shutdown() })

	lease, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	dead := lease.Engine().(*fakeEngine)
	dead.connected.Store(false)
	lease.Release()

	next, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire after disconnect: %v", err)
	}
	defer next.Release()
	if next.Engine() == Engine(dead) {
		t.Fatalf("expected a fresh engine")
	}
	if st := pool.Stats(); st.Engines != 2 {
		t.Fatalf("expected the empty slot to be used, got %+v", st)
	}
}

func TestPoolReplacesDeadEngineAfterLastLease(t *testing.T) {
	t.Parallel()

	launcher := &fakeLauncher{}
	pool := NewPool(launcher, 1, discardLogger())
	t.Cleanup(func() { _ = pool.Shutdown() })

	held, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	dead := held.Engine().(*fakeEngine)
	dead.connected.Store(false)

	fresh, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire replacement: %v", err)
	}
	defer fresh.Release()

	if fresh.Engine() == Engine(dead) {
		t.Fatalf("expected the dead engine to be replaced")
	}
	if dead.closed.Load() != 0 {
		t.Fatalf("retired engine closed while a lease still references it")
	}
	if st := pool.Stats(); st.Retired != 1 || st.Engines != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}

	held.Release()
	if dead.closed.Load() != 1 {
		t.Fatalf("expected retired engine to close on last release, closed=%d", dead.closed.Load())
	}
	if st := pool.Stats(); st.Retired != 0 {
		t.Fatalf("expected retired set to drain, got %+v", st)
	}
}

func TestPoolLaunchFailureLeavesSlotRetryable(t *testing.T) {
	t.Parallel()

	launcher := &fakeLauncher{}
	pool := NewPool(launcher, 1, discardLogger())
	t.Cleanup(func() { _ = pool.Shutdown() })

	lease, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	lease.Engine().(*fakeEngine).connected.Store(false)
	lease.Release()

	launcher.mu.Lock()
	launcher.failures = 1
	launcher.mu.Unlock()

	var launchErr *LaunchError
	if _, err := pool.Acquire(context.Background()); !errors.As(err, &launchErr) {
		t.Fatalf("expected LaunchError, got %v", err)
	}

	lease, err = pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	lease.Release()
}

func TestPoolShutdownIsIdempotent(t *testing.T) {
	t.Parallel()

	launcher := &fakeLauncher{}
	pool := NewPool(launcher, 2, discardLogger())

	lease, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	engine := lease.Engine().(*fakeEngine)
	engine.closeErr = errors.New("already gone")

	if err := pool.Shutdown(); err == nil {
		t.Fatalf("expected close failure to be reported")
	}
	if err := pool.Shutdown(); err != nil {
		t.Fatalf("second shutdown should be a no-op, got %v", err)
	}
	if engine.closed.Load() != 1 {
		t.Fatalf("expected engine closed once, got %d", engine.closed.Load())
	}

	lease.Release()
	if _, err := pool.Acquire(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after shutdown, got %v", err)
	}
	if st := pool.Stats(); st.Engines != 0 {
		t.Fatalf("expected empty pool, got %+v", st)
	}
}

func TestPoolHandleSignalsShutsDownWhenContextEnds(t *testing.T) {
	t.Parallel()

	launcher := &fakeLauncher{}
	pool := NewPool(launcher, 1, discardLogger())
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	pool.HandleSignals(ctx)
	pool.HandleSignals(ctx)
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := pool.Acquire(context.Background()); errors.Is(err, ErrClosed) {
			if launcher.launched()[0].closed.Load() != 1 {
				t.Fatalf("expected engine closed exactly once")
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("pool was not shut down after context cancellation")
}

func TestPoolAcquireHonoursCancelledContext(t *testing.T) {
	t.Parallel()

	pool := NewPool(&fakeLauncher{}, 1, discardLogger())
	t.Cleanup(func() { _ = pool.Shutdown() })
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pool.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPoolLaunchedEnginesOutliveTheAcquiringRequest(t *testing.T) {
	t.Parallel()

	launcher := &fakeLauncher{}
	pool := NewPool(launcher, 2, discardLogger())
	t.Cleanup(func() { _ = pool.Shutdown() })

	startCtx, cancelStart := context.WithCancel(context.Background())
	if err := pool.Start(startCtx); err != nil {
		t.Fatalf("start: %v", err)
	}
	cancelStart()

	// Kill the boot engine so the next Acquire launches a replacement on behalf of a request.
	launcher.launched()[0].connected.Store(false)

	reqCtx, cancelReq := context.WithCancel(context.Background())
	lease, err := pool.Acquire(reqCtx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	lease.Release()
	cancelReq()

	launcher.mu.Lock()
	ctxs := append([]context.Context(nil), launcher.ctxs...)
	launcher.mu.Unlock()
	if len(ctxs) != 2 {
		t.Fatalf("expected boot launch and one replacement, got %d launches", len(ctxs))
	}
	for i, ctx := range ctxs {
		if err := ctx.Err(); err != nil {
			t.Fatalf("launch %d received a context that ended with its caller: %v", i, err)
		}
	}
}
