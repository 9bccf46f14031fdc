package store

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Reaper runs the periodic stale-entry eviction loop.
type Reaper struct {
	store    *Store
	interval time.Duration
	logger   *zap.Logger
}

// NewReaper constructs a Reaper that evicts stale entries from store
// every interval.
func NewReaper(s *Store, interval time.Duration, logger *zap.Logger) *Reaper {
	return &Reaper{store: s, interval: interval, logger: logger}
}

// Start runs the eviction loop until ctx is canceled. A failure in one
// tick never stops the loop — there is nothing for CleanupStale to
// fail on today, but the tick is still wrapped defensively since a
// future store backend might return an error.
func (r *Reaper) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick()
		}
	}
}

func (r *Reaper) tick() {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("reaper tick panicked", zap.Any("recovered", rec))
		}
	}()

	n := r.store.CleanupStale()
	if n > 0 {
		r.logger.Info("evicted stale servers", zap.Int("count", n))
	}
}
