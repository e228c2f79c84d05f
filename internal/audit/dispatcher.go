// Package audit mirrors error records, batch history and purged operations
// to external systems. Nothing in it is read back by the queue.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rzpsarthak13/opqueue/internal/errorlog"
	"github.com/rzpsarthak13/opqueue/internal/logging"
	"github.com/rzpsarthak13/opqueue/internal/stats"
)

// ErrDispatcherClosed is returned by Flush after Close.
var ErrDispatcherClosed = errors.New("audit dispatcher is closed")

// EventKind distinguishes the two event streams.
type EventKind string

const (
	EventError EventKind = "error"
	EventBatch EventKind = "batch"
)

// Event is one error record or batch history entry. Exactly one of Error
// and Batch is set.
type Event struct {
	Kind  EventKind           `json:"kind"`
	Error *errorlog.Record    `json:"error,omitempty"`
	Batch *stats.HistoryEntry `json:"batch,omitempty"`
}

// Timestamp is when the event happened.
func (e Event) Timestamp() time.Time {
	switch {
	case e.Error != nil:
		return e.Error.Context.Timestamp
	case e.Batch != nil:
		return e.Batch.Timestamp
	default:
		return time.Time{}
	}
}

// Publisher delivers events to one destination.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, events []Event) error
	Close() error
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	// BufferSize bounds the events waiting for delivery. Defaults to 1000.
	BufferSize int

	// BatchSize bounds the events handed to a publisher at once. Defaults to 100.
	BatchSize int

	// FlushInterval is how long a partial batch waits. Defaults to one second.
	FlushInterval time.Duration

	// PublishTimeout bounds a single Publish call. Defaults to five seconds.
	PublishTimeout time.Duration

	Logger *slog.Logger
}

// Dispatcher buffers events in a channel and delivers them to its publishers
// from a background goroutine. Enqueuing never blocks: events arriving while
// the buffer is full are dropped and counted.
type Dispatcher struct {
	queue      chan Event
	publishers []Publisher
	batchSize  int
	interval   time.Duration
	timeout    time.Duration
	log        *slog.Logger

	mu     sync.RWMutex
	closed bool

	flushCh chan chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}

	dropped   atomic.Int64
	published atomic.Int64
	failed    atomic.Int64
}

// NewDispatcher starts a dispatcher delivering to publishers.
func NewDispatcher(opts DispatcherOptions, publishers ...Publisher) *Dispatcher {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1000
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}

	d := &Dispatcher{
		queue:      make(chan Event, opts.BufferSize),
		publishers: publishers,
		batchSize:  opts.BatchSize,
		interval:   opts.FlushInterval,
		timeout:    opts.PublishTimeout,
		log:        logging.WithComponent(opts.Logger, "audit"),
		flushCh:    make(chan chan struct{}),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	go d.run()
	return d
}

// RecordError enqueues an error record.
func (d *Dispatcher) RecordError(rec errorlog.Record) {
	d.enqueue(Event{Kind: EventError, Error: &rec})
}

// RecordBatch enqueues a batch history entry.
func (d *Dispatcher) RecordBatch(entry stats.HistoryEntry) {
	d.enqueue(Event{Kind: EventBatch, Batch: &entry})
}

func (d *Dispatcher) enqueue(ev Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		return
	}

	select {
	case d.queue <- ev:
	default:
		if d.dropped.Add(1) == 1 {
			d.log.Warn("audit buffer full, dropping events", "capacity", cap(d.queue))
		}
	}
}

// Pending is the number of buffered events.
func (d *Dispatcher) Pending() int { return len(d.queue) }

// Stats reports delivered, failed and dropped event counts.
func (d *Dispatcher) Stats() (published, failed, dropped int64) {
	return d.published.Load(), d.failed.Load(), d.dropped.Load()
}

// Flush delivers every event buffered before the call.
func (d *Dispatcher) Flush(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case d.flushCh <- done:
	case <-d.doneCh:
		return ErrDispatcherClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events, delivers what is buffered and closes the
// publishers.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	close(d.stopCh)
	<-d.doneCh

	var errs []error
	for _, p := range d.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) run() {
	defer close(d.doneCh)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			d.drain()
			return
		case done := <-d.flushCh:
			d.drain()
			close(done)
		case <-ticker.C:
			d.deliver(d.dequeue())
		}
	}
}

// dequeue takes up to batchSize buffered events without waiting.
func (d *Dispatcher) dequeue() []Event {
	events := make([]Event, 0, d.batchSize)
	for len(events) < d.batchSize {
		select {
		case ev := <-d.queue:
			events = append(events, ev)
		default:
			return events
		}
	}
	return events
}

func (d *Dispatcher) drain() {
	for {
		events := d.dequeue()
		if len(events) == 0 {
			return
		}
		d.deliver(events)
	}
}

func (d *Dispatcher) deliver(events []Event) {
	if len(events) == 0 {
		return
	}
	for _, p := range d.publishers {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := p.Publish(ctx, events)
		cancel()
		if err != nil {
			d.failed.Add(int64(len(events)))
			d.log.Error("failed to publish audit events", "publisher", p.Name(), "events", len(events), "error", err)
			continue
		}
		d.published.Add(int64(len(events)))
	}
}
