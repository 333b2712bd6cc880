// Package refresh owns the background full re-fetch: the scheduled cron
// run and the immediate run after a realtime reconnect. Re-fetching is the
// only reconciliation mechanism after a connectivity gap; the push channel
// never replays what was missed.
package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"inboxsync/pkg/logger"
	"inboxsync/pkg/metrics"
)

// Fetcher performs one full refresh (conversation list plus message tails
// of the conversations already in the store).
type Fetcher func(ctx context.Context) error

// Runner schedules a Fetcher by cron expression and serializes runs: a
// resync trigger during a cron run does not overlap it.
type Runner struct {
	fetch Fetcher
	cron  string

	mu      sync.Mutex
	running bool
}

// New validates the cron expression (empty means hourly) and returns a
// stopped Runner.
func New(cronExpr string, fetch Fetcher) (*Runner, error) {
	if cronExpr == "" {
		cronExpr = "0 * * * *"
	}
	if !gronx.IsValid(cronExpr) {
		return nil, fmt.Errorf("invalid refresh cron expression: %s", cronExpr)
	}
	return &Runner{fetch: fetch, cron: cronExpr}, nil
}

// Start launches the scheduler goroutine. The returned cancel stops it.
func (r *Runner) Start(ctx context.Context) context.CancelFunc {
	ctx2, cancel := context.WithCancel(ctx)
	go r.loop(ctx2)
	logger.Info("refresh_scheduler_started", "cron", r.cron)
	return cancel
}

// Trigger runs one refresh now (resync after reconnect, or manual). The
// trigger label only feeds metrics.
func (r *Runner) Trigger(ctx context.Context, trigger string) {
	r.runOnce(ctx, trigger)
}

func (r *Runner) loop(ctx context.Context) {
	for {
		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(r.cron, now, false)
		if err != nil {
			logger.Error("refresh_nexttick_failed", "cron", r.cron, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		select {
		case <-time.After(time.Until(next)):
			r.runOnce(ctx, "cron")
		case <-ctx.Done():
			logger.Info("refresh_scheduler_stopping")
			return
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, trigger string) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		logger.Debug("refresh_skipped_already_running", "trigger", trigger)
		return
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	start := time.Now()
	metrics.RefreshRuns.WithLabelValues(trigger).Inc()
	if err := r.fetch(ctx); err != nil {
		logger.Warn("refresh_run_failed", "trigger", trigger, "error", err)
		return
	}
	logger.Info("refresh_run_done", "trigger", trigger, "took", time.Since(start).String())
}
