// Package settlement runs the background reconciler that sweeps the
// audit log for settlements stuck in pending.
package settlement

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tollgate/internal/x402"
)

// DefaultInterval is the sweep cadence when none is configured.
const DefaultInterval = time.Minute

// AuditStore is the slice of the database the reconciler needs.
type AuditStore interface {
	ExpireStalePending(ctx context.Context, age time.Duration, reason string) (int64, error)
}

// Reconciler marks settlements that never reached a terminal state as
// failed. A row can stay pending when the process dies between the
// audit insert and the completion update; the on-chain transfer may or
// may not have landed, so the sweep only repairs the audit log and
// never touches the replay store.
type Reconciler struct {
	store    AuditStore
	interval time.Duration
	maxAge   time.Duration
	log      *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewReconciler builds a reconciler sweeping rows older than maxAge
// every interval. maxAge should comfortably exceed the settlement
// timeout so an in-flight confirmation wait is never swept.
func NewReconciler(store AuditStore, interval, maxAge time.Duration, log *slog.Logger) *Reconciler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if maxAge <= 0 {
		maxAge = 2 * interval
	}
	return &Reconciler{
		store:    store,
		interval: interval,
		maxAge:   maxAge,
		log:      log,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (r *Reconciler) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			case <-ticker.C:
				r.Sweep(ctx)
			}
		}
	}()
	r.log.Info("reconciler started", "interval", r.interval, "max_age", r.maxAge)
}

// Stop halts the loop and waits for an in-flight sweep. Safe to call
// more than once.
func (r *Reconciler) Stop() {
	r.once.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

// Sweep expires stale pending rows once. Exposed so operators can
// trigger it out of band in tests and tooling.
func (r *Reconciler) Sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	count, err := r.store.ExpireStalePending(sweepCtx, r.maxAge, x402.ReasonTransactionTimeout)
	if err != nil {
		r.log.Error("reconcile sweep failed", "error", err)
		return
	}
	if count > 0 {
		r.log.Warn("expired stale pending settlements", "count", count, "max_age", r.maxAge)
	}
}
