package browser

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
)

// HandleSignals shuts the pool down on SIGINT or SIGTERM, or when ctx ends.
// Only the first call per pool registers anything.
func (p *Pool) HandleSignals(ctx context.Context) {
	p.signalOnce.Do(func() {
		sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigCtx.Done()
			stop()
			p.logger.Info("browser pool received shutdown signal", slog.Any("cause", context.Cause(sigCtx)))
			if err := p.Shutdown(); err != nil {
				p.logger.Warn("browser pool shutdown reported errors", slog.Any("error", err))
			}
		}()
	})
}
