// Package reaper runs the periodic expiry sweep over the token and
// permission cache tables. One reaper per process; multiple processes
// may reap concurrently because every statement is an idempotent delete.
package reaper

import (
	"context"
	"time"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/observability"
)

// Reaper periodically evicts expired rows from both caches
type Reaper struct {
	tokens   *auth.Manager
	logger   *observability.Logger
	metrics  *observability.Metrics
	interval time.Duration
}

// New creates a reaper sweeping every interval
func New(tokens *auth.Manager, logger *observability.Logger, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Reaper{tokens: tokens, logger: logger, interval: interval}
}

// SetMetrics attaches the metrics sink
func (r *Reaper) SetMetrics(metrics *observability.Metrics) {
	r.metrics = metrics
}

// Run sweeps on every tick until the context is cancelled. Errors are
// logged and counted, never fatal to the loop.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Infof("Reaper started with interval %s", r.interval)
	for {
		select {
		case <-ticker.C:
			r.Sweep(ctx)
		case <-ctx.Done():
			r.logger.Info("Reaper stopped")
			return
		}
	}
}

// Sweep performs one eviction pass
func (r *Reaper) Sweep(ctx context.Context) {
	now := r.tokens.Clock().Now()
	tokens, cacheRows, err := r.tokens.Reap(ctx, now)
	if err != nil {
		if r.metrics != nil {
			r.metrics.ReaperErrorsTotal.Inc()
		}
		r.logger.WithError(err).Error("Reap pass failed")
		return
	}
	if tokens > 0 || cacheRows > 0 {
		r.logger.WithFields(map[string]interface{}{
			"tokens_removed":     tokens,
			"cache_rows_removed": cacheRows,
		}).Info("Reap pass complete")
	}
}
