// Package throttle rate-limits a stream of values to one delivery per
// interval without losing the most recent one.
package throttle

import (
	"sync"
	"time"
)

// Throttle delivers pushed values to fn at most once per interval. A value
// pushed inside the interval is held; later pushes replace it, and the held
// value is delivered when the interval ends. Deliveries never overlap, and a
// value older than one already delivered is dropped.
type Throttle[T any] struct {
	mu       sync.Mutex
	interval time.Duration
	fn       func(T)
	now      func() time.Time

	last       time.Time
	seq        uint64
	pending    *T
	pendingSeq uint64
	timer      *time.Timer
	stopped    bool

	deliverMu sync.Mutex
	delivered uint64
}

func New[T any](interval time.Duration, fn func(T)) *Throttle[T] {
	return &Throttle[T]{interval: interval, fn: fn, now: time.Now}
}

// Push offers v. It is delivered immediately if the interval since the last
// delivery has elapsed, otherwise it becomes the trailing value.
func (t *Throttle[T]) Push(v T) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.seq++
	seq := t.seq
	now := t.now()
	wait := t.interval - now.Sub(t.last)
	if t.last.IsZero() || wait <= 0 {
		if t.timer != nil {
			t.timer.Stop()
			t.timer = nil
		}
		t.pending = nil
		t.last = now
		t.mu.Unlock()
		t.deliver(v, seq)
		return
	}

	t.pending = &v
	t.pendingSeq = seq
	if t.timer == nil {
		t.timer = time.AfterFunc(wait, t.flushTrailing)
	}
	t.mu.Unlock()
}

// Flush delivers the held value now, if any.
func (t *Throttle[T]) Flush() {
	t.flushTrailing()
}

// Stop drops any held value and ignores further pushes.
func (t *Throttle[T]) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	t.pending = nil
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// Reset drops any held value and re-arms the throttle so the next push is
// delivered immediately.
func (t *Throttle[T]) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = nil
	t.last = time.Time{}
	t.stopped = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *Throttle[T]) flushTrailing() {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if t.stopped || t.pending == nil {
		t.mu.Unlock()
		return
	}
	v, seq := *t.pending, t.pendingSeq
	t.pending = nil
	t.last = t.now()
	t.mu.Unlock()
	t.deliver(v, seq)
}

// deliver calls fn unless a newer value has already gone out.
func (t *Throttle[T]) deliver(v T, seq uint64) {
	t.deliverMu.Lock()
	defer t.deliverMu.Unlock()
	if seq <= t.delivered {
		return
	}
	t.delivered = seq
	t.fn(v)
}
