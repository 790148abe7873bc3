package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/argussec/argus/internal/adapter/otel"
	"github.com/argussec/argus/internal/config"
	"github.com/argussec/argus/internal/port/database"
)

// Reaper force-fails runs whose producers went silent. It is the only
// component that can terminate a run without an explicit end request:
// no external signal announces that an agent silently died, so absence
// of activity has to be observed on a fixed interval.
//
// Reaped runs are failed without invoking analysis; findings appear
// only if a client later calls end-run explicitly.
type Reaper struct {
	store   database.RunStore
	cfg     config.Reaper
	log     *slog.Logger
	metrics *otel.Metrics
	now     func() time.Time
}

// NewReaper creates a reaper from config. metrics may be nil.
func NewReaper(store database.RunStore, cfg config.Reaper, log *slog.Logger, metrics *otel.Metrics) *Reaper {
	return &Reaper{store: store, cfg: cfg, log: log, metrics: metrics, now: time.Now}
}

// Run loops until ctx is cancelled, sweeping once per interval.
// Transient store errors are logged and retried on the next tick,
// never propagated.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.log.Info("reaper started", "interval", r.cfg.Interval, "stale_timeout", r.cfg.StaleTimeout)
	for {
		select {
		case <-ctx.Done():
			r.log.Info("reaper stopped")
			return ctx.Err()
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep fails every running run with no activity since the cutoff.
func (r *Reaper) sweep(ctx context.Context) {
	now := r.now().UTC()
	cutoff := now.Add(-r.cfg.StaleTimeout)

	reaped, err := r.store.ReapStale(ctx, cutoff, now)
	if err != nil {
		r.log.Error("reap sweep failed", "error", err)
		return
	}
	if len(reaped) > 0 && r.metrics != nil {
		r.metrics.RunsReaped.Add(ctx, int64(len(reaped)))
	}
	for _, id := range reaped {
		r.log.Warn("run reaped as stale", "run_id", id, "stale_timeout", r.cfg.StaleTimeout)
	}
}
