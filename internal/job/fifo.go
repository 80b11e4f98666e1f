package job

import "slices"

// Queue is the FIFO of queued job ids. Index 0 is the next dispatch
// candidate. Like Store it is not safe for concurrent use on its own.
type Queue struct {
	ids []string
}

func NewQueue() *Queue {
	return &Queue{}
}

// Push appends id unless it is already present. Reports whether it was added.
func (q *Queue) Push(id string) bool {
	if slices.Contains(q.ids, id) {
		return false
	}
	q.ids = append(q.ids, id)
	return true
}

// Pop removes and returns the head.
func (q *Queue) Pop() (string, bool) {
	if len(q.ids) == 0 {
		return "", false
	}
	id := q.ids[0]
	q.ids = q.ids[1:]
	return id, true
}

// Remove deletes id wherever it sits. Reports whether it was present.
func (q *Queue) Remove(id string) bool {
	i := slices.Index(q.ids, id)
	if i < 0 {
		return false
	}
	q.ids = slices.Delete(q.ids, i, i+1)
	return true
}

// Position returns the 1-based position of id, or 0 when absent.
func (q *Queue) Position(id string) int {
	return slices.Index(q.ids, id) + 1
}

func (q *Queue) Len() int {
	return len(q.ids)
}

// IDs returns a copy of the queued ids in dispatch order.
func (q *Queue) IDs() []string {
	return slices.Clone(q.ids)
}
