package job

import (
	"sort"
	"time"
)

// Store maps job ids to job records. It holds no lock of its own: the
// scheduler that owns it serialises every call.
type Store struct {
	jobs    map[string]*Job
	nextSeq uint64
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{jobs: make(map[string]*Job)}
}

// Put inserts or replaces j.
func (s *Store) Put(j *Job) {
	if j.seq == 0 {
		s.nextSeq++
		j.seq = s.nextSeq
	}
	s.jobs[j.ID] = j
}

// Get returns the live record for id, or nil.
func (s *Store) Get(id string) *Job {
	return s.jobs[id]
}

func (s *Store) Delete(id string) {
	delete(s.jobs, id)
}

func (s *Store) Len() int {
	return len(s.jobs)
}

// All returns live records newest first by Timestamp; jobs created in the same
// instant keep reverse insertion order.
func (s *Store) All() []*Job {
	out := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].Timestamp.Equal(out[b].Timestamp) {
			return out[a].Timestamp.After(out[b].Timestamp)
		}
		return out[a].seq > out[b].seq
	})
	return out
}

// DeleteTerminalBefore removes terminal jobs whose CompletedAt is strictly
// before cutoff and returns their ids.
func (s *Store) DeleteTerminalBefore(cutoff time.Time) []string {
	var removed []string
	for id, j := range s.jobs {
		if !j.Status.IsTerminal() || j.CompletedAt == nil {
			continue
		}
		if j.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed = append(removed, id)
		}
	}
	return removed
}
