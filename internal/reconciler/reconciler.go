package reconciler

import (
	"context"
	"log/slog"
	"time"

	"custodian/internal/reservation"
)

// Target is the manager operation the loop drives.
type Target interface {
	Reconcile(ctx context.Context) (reservation.ReconcileReport, error)
}

// Reconciler periodically reconciles reservations and reference pointers
// against live chain state. One pass at a time: the loop is sequential and
// the target itself refuses concurrent passes.
type Reconciler struct {
	target   Target
	interval time.Duration
	cancel   context.CancelFunc
}

// New creates a reconciler running one pass per interval.
func New(target Target, interval time.Duration) *Reconciler {
	return &Reconciler{
		target:   target,
		interval: interval,
	}
}

// Start runs the loop until the context is cancelled. An initial pass runs
// immediately so a restart cleans up stale reservations without waiting a
// full interval.
func (r *Reconciler) Start(ctx context.Context) error {
	ctx, r.cancel = context.WithCancel(ctx)

	slog.Info("Starting reconcile loop", "interval", r.interval)

	r.runOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Reconcile loop stopped")
			return ctx.Err()
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

// Stop cancels a running loop.
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

// runOnce executes a single pass; failures are logged, never fatal, since
// the next tick retries against fresh chain state anyway.
func (r *Reconciler) runOnce(ctx context.Context) {
	start := time.Now()
	report, err := r.target.Reconcile(ctx)
	if err != nil {
		slog.Error("Reconcile pass failed", "error", err)
		return
	}

	if report.ReservationsReleased > 0 || report.ReferencesCleared > 0 {
		slog.Info("Reconcile pass finished",
			"reservations_released", report.ReservationsReleased,
			"references_cleared", report.ReferencesCleared,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	} else {
		slog.Debug("Reconcile pass finished, nothing stale",
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
