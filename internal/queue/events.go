package queue

import (
	"fmt"

	"github.com/transcribeq/transcribeq/internal/job"
)

// EventKind classifies a job event.
type EventKind string

const (
	EventStatus    EventKind = "status"
	EventResult    EventKind = "result"
	EventCancelled EventKind = "cancelled"
)

// Final reports whether no further events follow for the job.
func (k EventKind) Final() bool {
	return k == EventResult || k == EventCancelled
}

// Event carries a snapshot of a job after a change.
type Event struct {
	Kind EventKind
	Job  job.Job
}

// Subscribe returns a buffered channel of events for a job together with its
// current snapshot. When the job is already terminal the channel is nil and
// the snapshot is the final state. The channel is closed after the final event.
func (s *Scheduler) Subscribe(jobID string) (chan Event, job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j := s.store.Get(jobID)
	if j == nil {
		return nil, job.Job{}, fmt.Errorf("%w: %s", job.ErrNotFound, jobID)
	}
	snap := s.snapshotLocked(j)
	if snap.Status.IsTerminal() {
		return nil, snap, nil
	}

	ch := make(chan Event, 64)
	s.subMu.Lock()
	s.subs[jobID] = append(s.subs[jobID], ch)
	s.subMu.Unlock()
	return ch, snap, nil
}

// Unsubscribe removes an event channel. It is safe to call after the channel
// was closed by a final event.
func (s *Scheduler) Unsubscribe(jobID string, ch chan Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	chans := s.subs[jobID]
	for i, c := range chans {
		if c == ch {
			s.subs[jobID] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(s.subs[jobID]) == 0 {
		delete(s.subs, jobID)
	}
}

// Watch calls fn for every later event of a job. If the job is already
// terminal fn is called once, synchronously, with its final state.
func (s *Scheduler) Watch(jobID string, fn func(Event)) error {
	s.mu.Lock()
	j := s.store.Get(jobID)
	if j == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", job.ErrNotFound, jobID)
	}
	snap := s.snapshotLocked(j)
	if !snap.Status.IsTerminal() {
		s.subMu.Lock()
		s.watchers[jobID] = append(s.watchers[jobID], fn)
		s.subMu.Unlock()
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	fn(Event{Kind: EventResult, Job: snap})
	return nil
}

// publish fans an event out without blocking. Final events close and drop
// every subscription of the job.
func (s *Scheduler) publish(ev Event) {
	id := ev.Job.ID
	final := ev.Kind.Final()

	s.subMu.Lock()
	chans := s.subs[id]
	watchers := s.watchers[id]
	if final {
		delete(s.subs, id)
		delete(s.watchers, id)
	}
	s.subMu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- ev:
		default:
		}
		if final {
			close(ch)
		}
	}
	for _, fn := range watchers {
		fn(ev)
	}
}
