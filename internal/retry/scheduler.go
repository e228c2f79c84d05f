package retry

import (
	"container/heap"
	"fmt"
	"time"
)

// Plan describes a scheduled retry.
type Plan struct {
	RetryCount int
	Delay      time.Duration
	NotBefore  time.Time
}

// Scheduler keeps the not-before time of every pending retry in a min-heap.
// It is not safe for concurrent use.
type Scheduler struct {
	backoff Backoff
	pending retryHeap
	index   map[string]*entry
}

// NewScheduler creates a Scheduler using b.
func NewScheduler(b Backoff) *Scheduler {
	return &Scheduler{backoff: b, index: make(map[string]*entry)}
}

// Backoff returns the policy in use.
func (s *Scheduler) Backoff() Backoff { return s.backoff }

// Schedule plans the next retry for id, which has already been retried
// current times. A pending entry for id is replaced.
func (s *Scheduler) Schedule(id string, current int, now time.Time) (Plan, error) {
	if s.backoff.Exhausted(current) {
		return Plan{}, fmt.Errorf("schedule %s after %d attempts: %w", id, current, ErrRetriesExhausted)
	}
	delay := s.backoff.Delay(current)
	plan := Plan{RetryCount: current + 1, Delay: delay, NotBefore: now.Add(delay)}

	if e, ok := s.index[id]; ok {
		e.at = plan.NotBefore
		heap.Fix(&s.pending, e.pos)
		return plan, nil
	}
	e := &entry{id: id, at: plan.NotBefore}
	heap.Push(&s.pending, e)
	s.index[id] = e
	return plan, nil
}

// Due pops and returns the ids whose not-before time is at or before now,
// earliest first.
func (s *Scheduler) Due(now time.Time) []string {
	var ids []string
	for s.pending.Len() > 0 && !s.pending[0].at.After(now) {
		e := heap.Pop(&s.pending).(*entry)
		delete(s.index, e.id)
		ids = append(ids, e.id)
	}
	return ids
}

// Cancel drops the pending entry for id. It reports whether one existed.
func (s *Scheduler) Cancel(id string) bool {
	e, ok := s.index[id]
	if !ok {
		return false
	}
	heap.Remove(&s.pending, e.pos)
	delete(s.index, id)
	return true
}

// Pending returns the number of scheduled retries.
func (s *Scheduler) Pending() int { return s.pending.Len() }

// NextDue returns the earliest not-before time.
func (s *Scheduler) NextDue() (time.Time, bool) {
	if s.pending.Len() == 0 {
		return time.Time{}, false
	}
	return s.pending[0].at, true
}

// Reset drops every pending entry.
func (s *Scheduler) Reset() {
	s.pending = nil
	s.index = make(map[string]*entry)
}

type entry struct {
	id  string
	at  time.Time
	pos int
}

type retryHeap []*entry

func (h retryHeap) Len() int { return len(h) }

func (h retryHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }

func (h retryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].pos = i
	h[j].pos = j
}

func (h *retryHeap) Push(x any) {
	e := x.(*entry)
	e.pos = len(*h)
	*h = append(*h, e)
}

func (h *retryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
