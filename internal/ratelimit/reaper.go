package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"throttle/internal/storage"
	"time"
)

// Reaper periodically deletes counters whose window has long closed. Without
// it the store keeps one record per client ever seen.
type Reaper struct {
	store     storage.CounterStore
	settings  SettingsSource
	interval  time.Duration
	retention time.Duration
	now       func() time.Time

	stopOnce sync.Once
	done     chan struct{}
	stopped  chan struct{}
}

// NewReaper creates a reaper that sweeps every interval and keeps records for
// at least retention, or one window if that is longer.
func NewReaper(store storage.CounterStore, src SettingsSource, interval, retention time.Duration) *Reaper {
	return &Reaper{
		store:     store,
		settings:  src,
		interval:  interval,
		retention: retention,
		now:       time.Now,
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

// Cutoff returns the window start before which records are removed.
func (r *Reaper) Cutoff(now time.Time) time.Time {
	keep := max(r.settings.Snapshot().Window(), r.retention)
	return now.Add(-keep)
}

// Sweep runs one deletion pass.
func (r *Reaper) Sweep(ctx context.Context) (int64, error) {
	cutoff := r.Cutoff(r.now())
	removed, err := r.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return removed, err
	}
	slog.Debug("Reaped expired counters", "removed", removed, "cutoff", cutoff.Unix())
	return removed, nil
}

// Start launches the background sweep loop. It returns immediately; call
// Stop to end the loop. A non-positive interval disables sweeping.
func (r *Reaper) Start(ctx context.Context) {
	if r.interval <= 0 {
		close(r.stopped)
		return
	}
	go r.run(ctx)
}

func (r *Reaper) run(ctx context.Context) {
	defer close(r.stopped)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				slog.Warn("Counter sweep failed", "error", err)
			}
		case <-ctx.Done():
			return
		case <-r.done:
			return
		}
	}
}

// Stop ends the sweep loop and waits for it to exit. Stop must only be
// called after Start.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
	<-r.stopped
}
