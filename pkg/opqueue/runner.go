package opqueue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/rzpsarthak13/opqueue/internal/health"
	"github.com/rzpsarthak13/opqueue/internal/logging"
	"github.com/rzpsarthak13/opqueue/internal/queue"
)

// Processor is the part of the engine a Runner drives.
type Processor interface {
	ProcessBatch(ctx context.Context, requestedSize int) (queue.BatchResult, error)
	HealthCheck(ctx context.Context) (health.Report, error)
	GetConfiguration(ctx context.Context) (queue.Configuration, error)
}

// Runner triggers batches in the background. Every PollInterval it processes
// batches, at most BatchesPerSecond, until the queue reports no further batch
// is ready. It also runs a health check every HealthCheckInterval, re-reading
// the interval from the engine after each check.
type Runner struct {
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	proc Processor
	cfg  RunnerConfig
	log  *slog.Logger

	batches    atomic.Int64
	operations atomic.Int64
}

// DefaultRunnerConfig polls every second and allows ten batches per second.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Enabled:          true,
		PollInterval:     time.Second,
		BatchSize:        queue.DefaultConfiguration().MaxBatchSize,
		BatchesPerSecond: 10,
		Burst:            1,
	}
}

// NewRunner creates a stopped Runner. Zero fields of cfg take their defaults.
func NewRunner(proc Processor, cfg RunnerConfig, logger *slog.Logger) *Runner {
	def := DefaultRunnerConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.BatchesPerSecond <= 0 {
		cfg.BatchesPerSecond = def.BatchesPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	return &Runner{
		proc:   proc,
		cfg:    cfg,
		log:    logging.WithComponent(logger, "runner"),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start launches the runner goroutine. Starting a running Runner is a no-op.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})

	go r.run(ctx, r.stopCh, r.doneCh)
	r.log.Info("runner started",
		"poll_interval", r.cfg.PollInterval,
		"batch_size", r.cfg.BatchSize,
		"batches_per_second", r.cfg.BatchesPerSecond,
	)
	return nil
}

// Stop signals the goroutine and waits for the batch in progress to finish.
func (r *Runner) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	stopCh, doneCh := r.stopCh, r.doneCh
	r.mu.Unlock()

	close(stopCh)
	<-doneCh
	r.log.Info("runner stopped", "batches", r.batches.Load(), "operations", r.operations.Load())
	return nil
}

// IsRunning reports whether the goroutine is active.
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Done is closed when the current run exits, including on context cancellation.
func (r *Runner) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doneCh
}

// Totals returns the batches triggered and operations they processed.
func (r *Runner) Totals() (batches, operations int64) {
	return r.batches.Load(), r.operations.Load()
}

func (r *Runner) run(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	limiter := rate.NewLimiter(rate.Limit(r.cfg.BatchesPerSecond), r.cfg.Burst)
	poll := time.NewTicker(r.cfg.PollInterval)
	defer poll.Stop()
	healthTimer := time.NewTimer(r.healthInterval(ctx))
	defer healthTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			r.drain(ctx, limiter)
		case <-healthTimer.C:
			r.checkHealth(ctx)
			healthTimer.Reset(r.healthInterval(ctx))
		}
	}
}

// drain processes batches until the queue has nothing ready.
func (r *Runner) drain(ctx context.Context, limiter *rate.Limiter) {
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		result, err := r.proc.ProcessBatch(ctx, r.cfg.BatchSize)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				r.log.Error("batch failed", "error", err)
			}
			return
		}

		processed := len(result.ProcessedOperationIDs)
		if processed > 0 {
			r.batches.Add(1)
			r.operations.Add(int64(processed))
			r.log.Debug("batch processed",
				"processed", processed,
				"succeeded", len(result.SuccessfulOperations),
				"failed", len(result.FailedOperations),
				"remaining", result.QueueStateAfterProcessing.RemainingQueueDepth,
				"terminated_early", result.BatchTerminatedEarly,
			)
		}
		if processed == 0 || !result.QueueStateAfterProcessing.NextBatchAvailable {
			return
		}
	}
}

func (r *Runner) checkHealth(ctx context.Context) {
	report, err := r.proc.HealthCheck(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			r.log.Error("health check failed", "error", err)
		}
		return
	}
	if report.Status != health.StatusHealthy {
		r.log.Warn("queue unhealthy",
			"status", report.Status,
			"queue_depth", report.QueueDepth,
			"issues", report.Issues,
		)
	}
}

func (r *Runner) healthInterval(ctx context.Context) time.Duration {
	cfg, err := r.proc.GetConfiguration(ctx)
	if err != nil || cfg.HealthCheckInterval <= 0 {
		return queue.DefaultConfiguration().HealthCheckInterval
	}
	return cfg.HealthCheckInterval
}
