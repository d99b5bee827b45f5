package escrow

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Reaper periodically refunds expired escrows
type Reaper struct {
	engine   *Engine
	interval time.Duration
}

func NewReaper(engine *Engine, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reaper{engine: engine, interval: interval}
}

// Run reaps until ctx is cancelled. Failures are logged and retried on the
// next tick.
func (r *Reaper) Run(ctx context.Context) error {
	zap.L().Info("Escrow reaper started", zap.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.engine.ReapExpired(ctx); err != nil {
			zap.L().Error("Failed to reap expired escrows", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			zap.L().Info("Escrow reaper stopped")
			return nil
		case <-ticker.C:
		}
	}
}
