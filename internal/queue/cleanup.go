package queue

import (
	"context"
	"log/slog"
	"time"
)

// Sweep removes terminal jobs whose completion is older than retention,
// measured from now. A job completed exactly retention ago is kept.
// Queued and processing jobs are never touched.
func (s *Scheduler) Sweep(now time.Time, retention time.Duration) int {
	s.mu.Lock()
	removed := s.store.DeleteTerminalBefore(now.Add(-retention))
	s.mu.Unlock()

	if len(removed) > 0 {
		slog.Info("cleanup: expired jobs removed", "count", len(removed))
	}
	return len(removed)
}

// StartCleanup sweeps expired jobs every interval until ctx is done.
func (s *Scheduler) StartCleanup(ctx context.Context, interval, retention time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep(s.now(), retention)
			}
		}
	}()
}
