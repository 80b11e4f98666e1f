package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/transcribeq/transcribeq/internal/stage"
)

// ErrNotFound is returned for unknown or expired upload ids.
var ErrNotFound = errors.New("upload status not found")

// Status is the latest stage report for one upload session.
type Status struct {
	Stage    stage.Stage `json:"stage"`
	Message  string      `json:"message"`
	Error    string      `json:"error,omitempty"`
	Complete bool        `json:"complete,omitempty"`
	Filename string      `json:"filename,omitempty"`
	JobID    string      `json:"jobId,omitempty"`
	// Timestamp is the time of the last write.
	Timestamp time.Time `json:"timestamp"`
}

// Tracker is an in-memory status board keyed by client correlation id. It
// knows nothing about jobs; callers correlate by file name or job id.
type Tracker struct {
	mu       sync.RWMutex
	statuses map[string]Status
	now      func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{
		statuses: make(map[string]Status),
		now:      time.Now,
	}
}

// SetStatus overwrites the status for id and stamps it with the write time.
func (t *Tracker) SetStatus(id string, st Status) error {
	if id == "" {
		return errors.New("upload id must not be empty")
	}
	if st.Stage == "" {
		return fmt.Errorf("upload %s: stage must not be empty", id)
	}
	norm, err := stage.Parse(string(st.Stage))
	if err != nil {
		return fmt.Errorf("upload %s: %w", id, err)
	}
	st.Stage = norm
	st.Timestamp = t.now().UTC()

	t.mu.Lock()
	t.statuses[id] = st
	t.mu.Unlock()
	return nil
}

// GetStatus returns the last status written for id.
func (t *Tracker) GetStatus(id string) (Status, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st, ok := t.statuses[id]
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return st, nil
}

func (t *Tracker) DeleteStatus(id string) {
	t.mu.Lock()
	delete(t.statuses, id)
	t.mu.Unlock()
}

func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.statuses)
}

// Sweep drops statuses last written more than retention before now,
// whatever their stage.
func (t *Tracker) Sweep(now time.Time, retention time.Duration) int {
	cutoff := now.Add(-retention)

	t.mu.Lock()
	removed := 0
	for id, st := range t.statuses {
		if st.Timestamp.Before(cutoff) {
			delete(t.statuses, id)
			removed++
		}
	}
	t.mu.Unlock()

	if removed > 0 {
		slog.Info("cleanup: expired upload statuses removed", "count", removed)
	}
	return removed
}

// StartCleanup sweeps expired statuses every interval until ctx is done.
func (t *Tracker) StartCleanup(ctx context.Context, interval, retention time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.Sweep(t.now(), retention)
			}
		}
	}()
}
