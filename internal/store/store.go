// Package store holds operation status records and enforces the lifecycle
// state machine. A Store is not safe for concurrent use; the queue engine's
// worker goroutine owns it.
package store

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/rzpsarthak13/opqueue/internal/core"
)

var (
	// ErrNotFound is returned for an unknown operation id.
	ErrNotFound = errors.New("operation not found")

	// ErrIllegalTransition is returned when a status change is not an edge of the lifecycle.
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrDuplicateID is returned when a generated id collides with an existing record.
	ErrDuplicateID = errors.New("duplicate operation id")
)

var transitions = map[core.Status][]core.Status{
	core.StatusQueued:     {core.StatusProcessing},
	core.StatusProcessing: {core.StatusCompleted, core.StatusRetrying, core.StatusFailed},
	core.StatusRetrying:   {core.StatusProcessing, core.StatusFailed},
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to core.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Update carries the fields applied together with a transition. Nil fields
// leave the record unchanged.
type Update struct {
	At           time.Time
	Result       core.OperationResult
	ErrorMessage *string
	RetryCount   *int
	NotBefore    *time.Time
}

// Store is the authoritative id -> Operation map with FIFO ordering.
type Store struct {
	ops     map[string]*core.Operation
	order   []string
	nextPos uint64
	newID   func() string
}

// New creates an empty Store that issues UUIDv4 ids.
func New() *Store {
	return NewWithIDFunc(func() string { return uuid.NewString() })
}

// NewWithIDFunc creates an empty Store that issues ids from newID.
func NewWithIDFunc(newID func() string) *Store {
	return &Store{
		ops:   make(map[string]*core.Operation),
		newID: newID,
	}
}

// Submit records kind as a new Queued operation at the tail of the queue.
func (s *Store) Submit(kind core.OperationKind, now time.Time) (*core.Operation, error) {
	id := s.newID()
	if _, dup := s.ops[id]; dup {
		return nil, fmt.Errorf("submit %s: %w", id, ErrDuplicateID)
	}
	s.nextPos++

	op := &core.Operation{
		ID:       id,
		Kind:     kind,
		Status:   core.StatusQueued,
		Position: s.nextPos,
		QueuedAt: now,
	}
	s.ops[id] = op
	s.order = append(s.order, id)
	return clone(op), nil
}

// Get returns a copy of the record for id.
func (s *Store) Get(id string) (core.Operation, bool) {
	op, ok := s.ops[id]
	if !ok {
		return core.Operation{}, false
	}
	return *clone(op), true
}

// GetMany looks up ids in order. Unknown ids yield nil entries.
func (s *Store) GetMany(ids []string) []*core.Operation {
	out := make([]*core.Operation, len(ids))
	for i, id := range ids {
		if op, ok := s.ops[id]; ok {
			out[i] = clone(op)
		}
	}
	return out
}

// Transition moves id to status to and applies u.
func (s *Store) Transition(id string, to core.Status, u Update) error {
	op, ok := s.ops[id]
	if !ok {
		return fmt.Errorf("transition %s: %w", id, ErrNotFound)
	}
	if !CanTransition(op.Status, to) {
		return fmt.Errorf("transition %s from %s to %s: %w", id, op.Status, to, ErrIllegalTransition)
	}

	retryCount := op.RetryCount
	if u.RetryCount != nil {
		retryCount = *u.RetryCount
	}
	if retryCount < 0 || retryCount > core.MaxRetryAttempts {
		return fmt.Errorf("transition %s: retry count %d out of range: %w", id, retryCount, ErrIllegalTransition)
	}
	if op.Status == core.StatusProcessing && to == core.StatusRetrying && op.RetryCount >= core.MaxRetryAttempts {
		return fmt.Errorf("transition %s: retries exhausted: %w", id, ErrIllegalTransition)
	}

	op.Status = to
	op.RetryCount = retryCount
	op.RetryReady = false
	switch to {
	case core.StatusProcessing:
		at := u.At
		op.ProcessingStartedAt = &at
		op.NotBefore = time.Time{}
	case core.StatusCompleted, core.StatusFailed:
		at := u.At
		op.CompletedAt = &at
	}
	if u.Result != nil {
		op.Result = u.Result
	}
	if u.ErrorMessage != nil {
		op.ErrorMessage = *u.ErrorMessage
	}
	if u.NotBefore != nil {
		op.NotBefore = *u.NotBefore
	}
	return nil
}

// MarkReady releases the given Retrying records for processing and returns
// how many were released. Ids in any other state are ignored.
func (s *Store) MarkReady(ids []string) int {
	n := 0
	for _, id := range ids {
		op, ok := s.ops[id]
		if !ok || op.Status != core.StatusRetrying || op.RetryReady {
			continue
		}
		op.RetryReady = true
		n++
	}
	return n
}

// Eligible returns up to limit operations ready for processing, in FIFO order:
// Queued records and Retrying records released by MarkReady.
func (s *Store) Eligible(limit int) []core.Operation {
	if limit <= 0 {
		return nil
	}
	var out []core.Operation
	for _, id := range s.order {
		if op := s.ops[id]; isEligible(op) {
			out = append(out, *clone(op))
			if len(out) == limit {
				break
			}
		}
	}
	return out
}

// HasEligible reports whether any operation is ready.
func (s *Store) HasEligible() bool {
	for _, op := range s.ops {
		if isEligible(op) {
			return true
		}
	}
	return false
}

func isEligible(op *core.Operation) bool {
	switch op.Status {
	case core.StatusQueued:
		return true
	case core.StatusRetrying:
		return op.RetryReady
	default:
		return false
	}
}

// Purge removes terminal records matching match and returns them in FIFO order.
func (s *Store) Purge(match func(core.Operation) bool) []core.Operation {
	return s.remove(func(op *core.Operation) bool {
		return op.Status.Terminal() && match(*op)
	})
}

// Evict removes Processing records matching match and returns them.
func (s *Store) Evict(match func(core.Operation) bool) []core.Operation {
	return s.remove(func(op *core.Operation) bool {
		return op.Status == core.StatusProcessing && match(*op)
	})
}

// remove deletes matching records and closes the gaps they leave in the FIFO
// index, so order never holds ids that are no longer stored.
func (s *Store) remove(match func(*core.Operation) bool) []core.Operation {
	var removed []core.Operation
	kept := s.order[:0]
	for _, id := range s.order {
		op := s.ops[id]
		if !match(op) {
			kept = append(kept, id)
			continue
		}
		removed = append(removed, *clone(op))
		delete(s.ops, id)
	}
	clear(s.order[len(kept):])
	s.order = kept
	if cap(s.order) > 2*len(s.order)+shrinkSlack {
		s.order = append(make([]string, 0, len(s.order)), s.order...)
	}
	return removed
}

// shrinkSlack keeps small queues from reallocating the FIFO index on every purge.
const shrinkSlack = 64

// Compact rebuilds the FIFO index in position order and returns the number of
// non-terminal records.
func (s *Store) Compact() int {
	order := make([]string, 0, len(s.ops))
	for _, id := range s.order {
		if _, ok := s.ops[id]; ok {
			order = append(order, id)
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		return s.ops[order[i]].Position < s.ops[order[j]].Position
	})
	s.order = order
	return s.Active()
}

// Counts returns the number of records per status.
func (s *Store) Counts() map[core.Status]int {
	counts := map[core.Status]int{
		core.StatusQueued:     0,
		core.StatusProcessing: 0,
		core.StatusCompleted:  0,
		core.StatusFailed:     0,
		core.StatusRetrying:   0,
	}
	for _, op := range s.ops {
		counts[op.Status]++
	}
	return counts
}

// Depth is the number of Queued and Retrying records.
func (s *Store) Depth() int {
	n := 0
	for _, op := range s.ops {
		if op.Status == core.StatusQueued || op.Status == core.StatusRetrying {
			n++
		}
	}
	return n
}

// Active is the number of non-terminal records.
func (s *Store) Active() int {
	n := 0
	for _, op := range s.ops {
		if !op.Status.Terminal() {
			n++
		}
	}
	return n
}

// NextPosition is the position the next submission will receive.
func (s *Store) NextPosition() uint64 { return s.nextPos + 1 }

// Len is the total number of records.
func (s *Store) Len() int { return len(s.ops) }

// Snapshot returns copies of every record in FIFO order.
func (s *Store) Snapshot() []core.Operation {
	out := make([]core.Operation, 0, len(s.ops))
	for _, id := range s.order {
		out = append(out, *clone(s.ops[id]))
	}
	return out
}

// InFlight is a Processing record and the time it started.
type InFlight struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"startedAt"`
}

// Processing lists records currently in the Processing state, in FIFO order.
func (s *Store) Processing() []InFlight {
	var out []InFlight
	for _, id := range s.order {
		op := s.ops[id]
		if op.Status != core.StatusProcessing {
			continue
		}
		f := InFlight{ID: id}
		if op.ProcessingStartedAt != nil {
			f.StartedAt = *op.ProcessingStartedAt
		}
		out = append(out, f)
	}
	return out
}

func clone(op *core.Operation) *core.Operation {
	c := *op
	if op.ProcessingStartedAt != nil {
		t := *op.ProcessingStartedAt
		c.ProcessingStartedAt = &t
	}
	if op.CompletedAt != nil {
		t := *op.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
