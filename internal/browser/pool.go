package browser

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
)

// DefaultSize is the number of engines a pool keeps when no size is configured.
const DefaultSize = 2

// member is an engine tracked by the pool together with the leases that reference it.
type member struct {
	engine  Engine
	refs    int
	retired bool
}

type slot struct {
	member *member
	// launching is non-nil while an engine is being started for this slot and is closed when the attempt ends.
	launching chan struct{}
}

// Pool hands out shared headless browser engines.
//
// Engines are shared between concurrent sessions; the pool bounds how many processes exist,
// not how many pages run on them. Disconnected engines are replaced on demand. A replaced
// engine is closed once the last lease referencing it is released.
type Pool struct {
	launcher Launcher
	logger   *slog.Logger

	mu          sync.Mutex
	slots       []slot
	retired     map[*member]struct{}
	generation  uint64
	initialized bool
	closed      bool

	initGroup  singleflight.Group
	signalOnce sync.Once
}

// Stats is a point-in-time view of pool occupancy.
type Stats struct {
	Size      int
	Engines   int
	Launching int
	Leases    int
	Retired   int
}

// NewPool creates an empty pool. No engine is started until Start or Acquire is called.
func NewPool(launcher Launcher, size int, logger *slog.Logger) *Pool {
	if size < 1 {
		size = DefaultSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		launcher: launcher,
		logger:   logger.With(slog.String("component", "browser_pool")),
		slots:    make([]slot, size),
		retired:  make(map[*member]struct{}),
	}
}

// Start launches the first engine. Concurrent callers share a single attempt.
// After a failed attempt the next call tries again.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	switch {
	case p.closed:
		p.mu.Unlock()
		return ErrClosed
	case p.initialized:
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	_, err, _ := p.initGroup.Do("init", func() (any, error) {
		p.mu.Lock()
		if p.initialized {
			p.mu.Unlock()
			return nil, nil
		}
		p.mu.Unlock()

		// Shared by every concurrent caller, so one caller's cancellation must not abort it.
		engine, err := p.launcher.Launch(context.WithoutCancel(ctx))
		if err != nil {
			p.logger.Error("browser pool initialization failed", slog.Any("error", err))
			return nil, &LaunchError{Err: err}
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			p.closeEngine(engine)
			return nil, ErrClosed
		}
		p.slots[0].member = &member{engine: engine}
		p.generation++
		p.initialized = true
		p.mu.Unlock()

		p.logger.Info("browser pool initialized", slog.Int("size", len(p.slots)))
		return nil, nil
	})
	return err
}

// Acquire returns a lease on a connected engine, launching or replacing one if needed.
// The caller must Release the lease when its session is finished.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	if err := p.Start(ctx); err != nil {
		return nil, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrClosed
		}
		generation := p.generation
		candidates := make([]*member, 0, len(p.slots))
		for _, s := range p.slots {
			if s.member != nil {
				candidates = append(candidates, s.member)
			}
		}
		p.mu.Unlock()

		for _, m := range candidates {
			if !m.engine.Connected(ctx) {
				p.logger.Warn("browser engine disconnected")
				continue
			}
			if lease, ok := p.lease(m); ok {
				return lease, nil
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		lease, wait, err := p.claimSlot(ctx, generation)
		if err != nil {
			return nil, err
		}
		if lease != nil {
			return lease, nil
		}
		if wait != nil {
			select {
			case <-wait:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
}

// lease takes a reference on m unless it was retired after it was probed.
func (p *Pool) lease(m *member) (*Lease, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || m.retired {
		return nil, false
	}
	m.refs++
	return &Lease{pool: p, member: m}, true
}

// claimSlot runs when no probed engine was connected. It either launches into a slot and
// returns a lease, or returns a channel to wait on before probing again.
func (p *Pool) claimSlot(ctx context.Context, generation uint64) (*Lease, <-chan struct{}, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, nil, ErrClosed
	}
	if p.generation != generation {
		// A new engine arrived while probing; probe again.
		p.mu.Unlock()
		return nil, nil, nil
	}
	for _, s := range p.slots {
		if s.launching != nil {
			ch := s.launching
			p.mu.Unlock()
			return nil, ch, nil
		}
	}

	idx := -1
	for i, s := range p.slots {
		if s.member == nil {
			idx = i
			break
		}
	}
	var (
		stale     *member
		staleRefs int
	)
	if idx < 0 {
		// Every slot holds an engine that failed its probe: replace the first one.
		idx = 0
		stale = p.slots[idx].member
		stale.retired = true
		p.slots[idx].member = nil
		staleRefs = stale.refs
		if staleRefs > 0 {
			p.retired[stale] = struct{}{}
		}
	}
	done := make(chan struct{})
	p.slots[idx].launching = done
	p.mu.Unlock()

	if stale != nil {
		p.logger.Info("replacing disconnected browser engine", slog.Int("slot", idx), slog.Int("leases", staleRefs))
		if staleRefs == 0 {
			p.closeEngine(stale.engine)
		}
	}

	// The engine outlives the request that happened to trigger its launch.
	engine, err := p.launcher.Launch(context.WithoutCancel(ctx))

	p.mu.Lock()
	p.slots[idx].launching = nil
	close(done)
	if err != nil {
		p.mu.Unlock()
		p.logger.Error("browser engine launch failed", slog.Int("slot", idx), slog.Any("error", err))
		return nil, nil, &LaunchError{Err: err}
	}
	if p.closed {
		p.mu.Unlock()
		p.closeEngine(engine)
		return nil, nil, ErrClosed
	}
	m := &member{engine: engine, refs: 1}
	p.slots[idx].member = m
	p.generation++
	p.mu.Unlock()

	p.logger.Info("browser engine launched", slog.Int("slot", idx))
	return &Lease{pool: p, member: m}, nil, nil
}

func (p *Pool) release(m *member) {
	p.mu.Lock()
	m.refs--
	closeNow := m.retired && m.refs == 0 && !p.closed
	if closeNow {
		delete(p.retired, m)
	}
	p.mu.Unlock()

	if closeNow {
		p.closeEngine(m.engine)
	}
}

// Shutdown closes every engine and clears the pool. Close failures are logged and
// returned joined. Calls after the first are no-ops.
func (p *Pool) Shutdown() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	engines := make([]Engine, 0, len(p.slots)+len(p.retired))
	for i := range p.slots {
		if m := p.slots[i].member; m != nil {
			engines = append(engines, m.engine)
			p.slots[i].member = nil
		}
	}
	for m := range p.retired {
		engines = append(engines, m.engine)
	}
	p.retired = make(map[*member]struct{})
	p.initialized = false
	p.mu.Unlock()

	var errs []error
	for _, engine := range engines {
		if err := engine.Close(); err != nil {
			p.logger.Warn("close browser engine failed", slog.Any("error", err))
			errs = append(errs, err)
		}
	}
	p.logger.Info("browser pool shut down", slog.Int("engines", len(engines)))
	return errors.Join(errs...)
}

// Stats reports current occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Stats{Size: len(p.slots), Retired: len(p.retired)}
	for _, s := range p.slots {
		if s.launching != nil {
			st.Launching++
		}
		if s.member != nil {
			st.Engines++
			st.Leases += s.member.refs
		}
	}
	for m := range p.retired {
		st.Leases += m.refs
	}
	return st
}

func (p *Pool) closeEngine(engine Engine) {
	if err := engine.Close(); err != nil {
		p.logger.Warn("close browser engine failed", slog.Any("error", err))
	}
}

// Lease is a reference to a pooled engine held for the duration of one session.
type Lease struct {
	pool   *Pool
	member *member
	once   sync.Once
}

// Engine returns the leased engine.
func (l *Lease) Engine() Engine {
	return l.member.engine
}

// Release returns the lease. It never closes a healthy engine and is safe to call twice.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.pool.release(l.member)
	})
}
