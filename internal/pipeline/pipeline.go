package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/mesh-timeseries-etl/internal/observability"
	"github.com/jonboulle/clockwork"
)

// minBackoff is the first retry delay after a failed pass.
const minBackoff = 5 * time.Second

// Syncer runs one incremental sync for a client.
type Syncer interface {
	Sync(ctx context.Context, client string) (SyncResult, error)
}

// ClientStatus is the outcome of a client's most recent sync.
type ClientStatus struct {
	Client    string    `json:"client"`
	LastRun   time.Time `json:"last_run"`
	Committed int       `json:"dates_committed"`
	Skipped   int       `json:"dates_skipped"`
	Rows      int       `json:"rows"`
	Error     string    `json:"error,omitempty"`
}

// Runner drives periodic sync passes over a fixed list of clients.
// Clients are synced one after another, never concurrently.
type Runner struct {
	syncer   Syncer
	clients  []string
	interval time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics
	ready    atomic.Bool

	mu     sync.Mutex
	status map[string]ClientStatus
}

// NewRunner creates a Runner. A nil clock uses real time.
func NewRunner(s Syncer, clients []string, interval time.Duration, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Runner {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Runner{
		syncer:   s,
		clients:  clients,
		interval: interval,
		clock:    clock,
		logger:   logger,
		metrics:  metrics,
		status:   make(map[string]ClientStatus, len(clients)),
	}
}

// Status returns the latest outcome per client in configured order.
// Clients that have not run yet are omitted.
func (r *Runner) Status() []ClientStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ClientStatus, 0, len(r.status))
	for _, c := range r.clients {
		if st, ok := r.status[c]; ok {
			out = append(out, st)
		}
	}
	return out
}

func (r *Runner) record(res SyncResult, err error) {
	st := ClientStatus{
		Client:    res.Client,
		LastRun:   r.clock.Now(),
		Committed: len(res.Committed),
		Skipped:   len(res.Skipped),
		Rows:      res.Rows,
	}
	if err != nil {
		st.Error = err.Error()
	}
	r.mu.Lock()
	r.status[res.Client] = st
	r.mu.Unlock()
}

// CheckReadiness returns nil once the runner has completed a pass,
// or an error describing why the service is not yet ready.
func (r *Runner) CheckReadiness(_ context.Context) error {
	if !r.ready.Load() {
		return errors.New("no sync pass has completed yet")
	}
	return nil
}

// RunOnce syncs every client once. A failing client does not stop the
// pass; the failures are returned joined.
func (r *Runner) RunOnce(ctx context.Context) error {
	var errs []error
	for _, c := range r.clients {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := r.syncer.Sync(ctx, c)
		res.Client = c
		r.record(res, err)
		if err != nil {
			r.logger.Error("sync failed", "client", c, "error", err)
			errs = append(errs, err)
			continue
		}
		if !res.NoOp() {
			r.logger.Info("client synced", "client", c, "dates", len(res.Committed), "rows", res.Rows)
		}
	}
	if ctx.Err() == nil {
		r.ready.Store(true)
	}
	return errors.Join(errs...)
}

// Run executes sync passes until the context is cancelled. After a pass
// with a transient failure the next one starts after an exponential
// backoff instead of the full interval.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("sync loop started", "clients", r.clients, "interval", r.interval)
	r.metrics.PipelineRunning.Set(1)
	defer r.metrics.PipelineRunning.Set(0)

	maxBackoff := max(r.interval, minBackoff)
	backoff := minBackoff

	for {
		err := r.RunOnce(ctx)
		if ctx.Err() != nil {
			r.logger.Info("sync loop stopping", "reason", ctx.Err())
			return nil
		}

		wait := r.interval
		if retryable(err) {
			wait = min(backoff, r.interval)
			backoff = nextBackoff(backoff, maxBackoff)
		} else {
			backoff = minBackoff
		}

		if !sleepWithContext(ctx, r.clock, wait) {
			r.logger.Info("sync loop stopping", "reason", ctx.Err())
			return nil
		}
	}
}

// retryable reports whether a pass failed for a reason a quick retry may fix.
// Ledger corruption needs an operator.
func retryable(err error) bool {
	return err != nil && !errors.Is(err, ErrLedgerCorruption)
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
