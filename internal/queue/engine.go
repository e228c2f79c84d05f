// Package queue implements the bounded, retrying operation queue. A single
// worker goroutine owns every piece of mutable state; public methods send
// closures to it and wait for the reply.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rzpsarthak13/opqueue/internal/clock"
	"github.com/rzpsarthak13/opqueue/internal/core"
	"github.com/rzpsarthak13/opqueue/internal/errorlog"
	"github.com/rzpsarthak13/opqueue/internal/health"
	"github.com/rzpsarthak13/opqueue/internal/resource"
	"github.com/rzpsarthak13/opqueue/internal/retry"
	"github.com/rzpsarthak13/opqueue/internal/stats"
	"github.com/rzpsarthak13/opqueue/internal/store"
)

var (
	// ErrClosed is returned by every method once Close has been called.
	ErrClosed = errors.New("queue engine is closed")

	// ErrQueueFull is returned by Submit when RejectWhenFull is set and the
	// queue depth has reached MaxQueueSize.
	ErrQueueFull = errors.New("queue is full")

	// ErrNoExecutor is returned by New when Options.Executor is nil.
	ErrNoExecutor = errors.New("executor is required")
)

// DefaultCyclesPerOperation is charged to the resource meter for every executed operation.
const DefaultCyclesPerOperation = 10_000_000

// Archive receives terminal operations before maintenance removes them.
type Archive interface {
	Archive(ctx context.Context, ops []core.Operation) error
}

// BatchSink receives a history entry for every recorded batch.
// Implementations must not block.
type BatchSink interface {
	RecordBatch(entry stats.HistoryEntry)
}

// Observer receives metric events. It is only called while
// MetricsCollectionEnabled is set.
type Observer interface {
	errorlog.Observer
	ObserveBatch(result BatchResult)
	ObserveQueueDepth(depth int)
	ObserveHealth(status health.Status)
}

// Options configures an Engine. Executor is required.
type Options struct {
	Config             Configuration
	Executor           core.Executor
	Clock              clock.Clock
	Meter              resource.Meter
	Backoff            retry.Backoff
	CyclesPerOperation int64
	Logger             *slog.Logger

	ErrorSink errorlog.Sink
	Archive   Archive
	BatchSink BatchSink
	Observer  Observer

	Version   string
	SessionID string

	// NewID overrides UUID generation for operation ids.
	NewID func() string
}

type command func(w *worker)

// Engine is the queue's public handle. It is safe for concurrent use.
type Engine struct {
	cmds chan command
	quit chan struct{}
	wg   sync.WaitGroup
	once sync.Once
	w    *worker
}

// New starts an Engine. Close must be called to stop its worker.
func New(opts Options) (*Engine, error) {
	if opts.Executor == nil {
		return nil, ErrNoExecutor
	}
	if opts.Config == (Configuration{}) {
		opts.Config = DefaultConfiguration()
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewReal()
	}
	if opts.Meter == nil {
		opts.Meter = resource.NewBudgetMeter(resource.DefaultBudgetConfig(), opts.Clock)
	}
	if opts.Backoff == (retry.Backoff{}) {
		opts.Backoff = retry.DefaultBackoff()
	}
	if opts.CyclesPerOperation == 0 {
		opts.CyclesPerOperation = DefaultCyclesPerOperation
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	e := &Engine{
		cmds: make(chan command),
		quit: make(chan struct{}),
	}

	st := store.New()
	if opts.NewID != nil {
		st = store.NewWithIDFunc(opts.NewID)
	}

	w := &worker{
		cfg:         opts.Config,
		store:       st,
		sched:       retry.NewScheduler(opts.Backoff),
		stats:       stats.NewEngine(),
		classifier:  errorlog.NewClassifier(opts.SessionID, opts.Version),
		exec:        opts.Executor,
		clock:       opts.Clock,
		meter:       opts.Meter,
		cyclesPerOp: opts.CyclesPerOperation,
		archive:     opts.Archive,
		batchSink:   opts.BatchSink,
		observer:    opts.Observer,
		log:         opts.Logger.With("component", "queue"),
		startedAt:   opts.Clock.Now(),
		post:        e.post,
	}
	logOpts := []errorlog.Option{errorlog.WithObserver(errorObserver{w})}
	if opts.ErrorSink != nil {
		logOpts = append(logOpts, errorlog.WithSink(opts.ErrorSink))
	}
	w.errs = errorlog.NewLogger(w.log.With("subsystem", "errors"), logOpts...)
	e.w = w

	e.wg.Add(1)
	go e.run()

	w.log.Info("queue engine started",
		"session_id", opts.SessionID,
		"max_queue_size", opts.Config.MaxQueueSize,
		"max_batch_size", opts.Config.MaxBatchSize,
	)
	return e, nil
}

func (e *Engine) run() {
	defer e.wg.Done()
	for {
		select {
		case <-e.quit:
			e.w.stopWake()
			return
		case cmd := <-e.cmds:
			cmd(e.w)
		}
	}
}

// Close stops the worker and waits for it to exit. Commands already running
// finish first.
func (e *Engine) Close() error {
	e.once.Do(func() {
		close(e.quit)
		e.wg.Wait()
		e.w.log.Info("queue engine stopped")
	})
	return nil
}

// post hands cmd to the worker without waiting for it to run.
func (e *Engine) post(cmd command) {
	select {
	case e.cmds <- cmd:
	case <-e.quit:
	}
}

// call runs fn on the worker and returns its result.
func call[T any](ctx context.Context, e *Engine, fn func(w *worker) T) (T, error) {
	var zero T
	select {
	case <-e.quit:
		return zero, ErrClosed
	default:
	}

	reply := make(chan T, 1)
	cmd := func(w *worker) { reply <- fn(w) }
	select {
	case e.cmds <- cmd:
	case <-e.quit:
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// worker holds the state owned by the worker goroutine.
type worker struct {
	cfg         Configuration
	store       *store.Store
	sched       *retry.Scheduler
	stats       *stats.Engine
	errs        *errorlog.Logger
	classifier  *errorlog.Classifier
	exec        core.Executor
	clock       clock.Clock
	meter       resource.Meter
	cyclesPerOp int64

	archive   Archive
	batchSink BatchSink
	observer  Observer
	log       *slog.Logger

	calls      callCounters
	safety     safetyCounters
	startedAt  time.Time
	lastHealth time.Time

	wake   clock.Timer
	wakeAt time.Time
	post   func(command)
}

// metrics returns the observer when metrics collection is enabled.
func (w *worker) metrics() Observer {
	if w.observer == nil || !w.cfg.MetricsCollectionEnabled {
		return nil
	}
	return w.observer
}

type errorObserver struct{ w *worker }

func (o errorObserver) ObserveError(c errorlog.Category, s errorlog.Severity) {
	if m := o.w.metrics(); m != nil {
		m.ObserveError(c, s)
	}
}

// promoteDue releases retries whose backoff has elapsed to the store and
// re-arms the wake-up timer for the next one. A Retrying operation is not
// eligible until it has passed through here.
func (w *worker) promoteDue(now time.Time) {
	if ids := w.sched.Due(now); len(ids) > 0 {
		n := w.store.MarkReady(ids)
		w.log.Debug("retries ready", "count", n, "ids", ids)
	}
	w.armWake(now)
}

// armWake schedules a promoteDue command for the earliest pending retry.
func (w *worker) armWake(now time.Time) {
	next, ok := w.sched.NextDue()
	if !ok {
		w.stopWake()
		return
	}
	if w.wake != nil && w.wakeAt.Equal(next) {
		return
	}
	w.stopWake()
	w.wakeAt = next
	post := w.post
	w.wake = w.clock.AfterFunc(next.Sub(now), func() {
		go post(func(w *worker) { w.promoteDue(w.clock.Now()) })
	})
}

func (w *worker) stopWake() {
	if w.wake != nil {
		w.wake.Stop()
		w.wake = nil
		w.wakeAt = time.Time{}
	}
}
