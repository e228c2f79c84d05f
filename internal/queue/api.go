package queue

import (
	"context"
	"fmt"

	"github.com/rzpsarthak13/opqueue/internal/core"
	"github.com/rzpsarthak13/opqueue/internal/errorlog"
	"github.com/rzpsarthak13/opqueue/internal/health"
	"github.com/rzpsarthak13/opqueue/internal/stats"
	"github.com/rzpsarthak13/opqueue/internal/validate"
)

// Submit validates kind and appends it to the queue as a Queued operation.
// Validation failures are logged as ValidationError records and returned
// wrapping validate.ErrValidation.
func (e *Engine) Submit(ctx context.Context, kind core.OperationKind) (string, error) {
	type reply struct {
		id  string
		err error
	}
	r, err := call(ctx, e, func(w *worker) reply {
		id, err := w.submit(kind)
		return reply{id, err}
	})
	if err != nil {
		return "", err
	}
	return r.id, r.err
}

func (w *worker) submit(kind core.OperationKind) (string, error) {
	now := w.clock.Now()
	if err := validate.Validate(kind); err != nil {
		opType := core.OperationType("Unknown")
		if kind != nil {
			opType = kind.Type()
		}
		w.errs.Log(w.classifier.Classify(err, opType, 0, "", now))
		return "", err
	}
	if depth := w.store.Depth(); w.cfg.RejectWhenFull && depth >= w.cfg.MaxQueueSize {
		return "", fmt.Errorf("submit %s: depth %d of %d: %w", kind.Type(), depth, w.cfg.MaxQueueSize, ErrQueueFull)
	}

	op, err := w.store.Submit(kind, now)
	if err != nil {
		return "", fmt.Errorf("submit %s: %w", kind.Type(), err)
	}
	if m := w.metrics(); m != nil {
		m.ObserveQueueDepth(w.store.Depth())
	}
	w.log.Debug("operation queued", "id", op.ID, "type", kind.Type(), "position", op.Position)
	return op.ID, nil
}

// GetStatus returns the status record for id.
func (e *Engine) GetStatus(ctx context.Context, id string) (core.Operation, bool, error) {
	type reply struct {
		op core.Operation
		ok bool
	}
	r, err := call(ctx, e, func(w *worker) reply {
		op, ok := w.store.Get(id)
		return reply{op, ok}
	})
	return r.op, r.ok, err
}

// GetStatuses looks up ids in order. Unknown ids yield nil entries.
func (e *Engine) GetStatuses(ctx context.Context, ids []string) ([]*core.Operation, error) {
	return call(ctx, e, func(w *worker) []*core.Operation {
		return w.store.GetMany(ids)
	})
}

// GetQueueStatistics counts operations by status.
func (e *Engine) GetQueueStatistics(ctx context.Context) (QueueStatistics, error) {
	return call(ctx, e, func(w *worker) QueueStatistics {
		counts := w.store.Counts()
		return QueueStatistics{
			TotalOperationsQueued:    counts[core.StatusQueued],
			TotalOperationsCompleted: counts[core.StatusCompleted],
			TotalOperationsFailed:    counts[core.StatusFailed],
			CurrentQueueDepth:        w.store.Depth(),
			MaxQueueSize:             w.cfg.MaxQueueSize,
			NextQueuePosition:        w.store.NextPosition(),
			CurrentlyProcessing:      counts[core.StatusProcessing],
			CurrentlyRetrying:        counts[core.StatusRetrying],
			PendingRetries:           w.sched.Pending(),
		}
	})
}

// GetQueueState returns every stored operation in FIFO order.
func (e *Engine) GetQueueState(ctx context.Context) ([]core.Operation, error) {
	return call(ctx, e, func(w *worker) []core.Operation {
		return w.store.Snapshot()
	})
}

// GetCurrentlyProcessing lists operations in the Processing state.
func (e *Engine) GetCurrentlyProcessing(ctx context.Context) ([]InFlight, error) {
	return call(ctx, e, func(w *worker) []InFlight {
		return w.store.Processing()
	})
}

// ProcessBatch executes up to requestedSize eligible operations. ctx bounds
// the executor calls; cancellation stops the batch early.
func (e *Engine) ProcessBatch(ctx context.Context, requestedSize int) (BatchResult, error) {
	return call(ctx, e, func(w *worker) BatchResult {
		return w.processBatch(ctx, requestedSize)
	})
}

// HealthCheck evaluates the queue's health.
func (e *Engine) HealthCheck(ctx context.Context) (health.Report, error) {
	return call(ctx, e, func(w *worker) health.Report {
		return w.healthCheck()
	})
}

func (w *worker) healthCheck() health.Report {
	now := w.clock.Now()
	report := health.Evaluate(health.Inputs{
		Now:                 now,
		QueueDepth:          w.store.Depth(),
		MaxQueueSize:        w.cfg.MaxQueueSize,
		ProcessingCount:     w.store.Counts()[core.StatusProcessing],
		MaxBatchSize:        w.cfg.MaxBatchSize,
		TotalProcessed:      w.stats.TotalOperations(),
		TotalFailures:       w.stats.TotalFailures(),
		TotalBatches:        w.stats.TotalBatches(),
		TotalProcessingTime: w.stats.TotalDuration(),
		CyclesBalance:       w.meter.CyclesBalance(),
		MinCyclesThreshold:  w.cfg.MinCyclesThreshold,
		MemoryUsage:         w.meter.MemoryUsage(),
		MaxMemoryUsageBytes: w.cfg.MaxMemoryUsageBytes,
	})
	w.lastHealth = now
	if m := w.metrics(); m != nil {
		m.ObserveHealth(report.Status)
	}
	if report.Status != health.StatusHealthy {
		w.log.Warn("queue health degraded", "status", report.Status, "issues", report.Issues)
	}
	return report
}

// GetQueueMetrics returns the operational summary.
func (e *Engine) GetQueueMetrics(ctx context.Context) (Metrics, error) {
	return call(ctx, e, func(w *worker) Metrics {
		return w.queueMetrics()
	})
}

// GetErrorLogs returns the retained error records, newest first.
func (e *Engine) GetErrorLogs(ctx context.Context) ([]errorlog.Record, error) {
	return call(ctx, e, func(w *worker) []errorlog.Record {
		return w.errs.Logs()
	})
}

// GetErrorStatistics summarizes the error log.
func (e *Engine) GetErrorStatistics(ctx context.Context) (errorlog.Statistics, error) {
	return call(ctx, e, func(w *worker) errorlog.Statistics {
		return w.errs.Statistics(w.clock.Now())
	})
}

// GetDetailedErrorAnalysis reports error trends and the retry recovery rate.
func (e *Engine) GetDetailedErrorAnalysis(ctx context.Context) (errorlog.Analysis, error) {
	return call(ctx, e, func(w *worker) errorlog.Analysis {
		return w.errs.Analysis(w.clock.Now(), w.recovery())
	})
}

func (w *worker) recovery() errorlog.Recovery {
	var r errorlog.Recovery
	for _, op := range w.store.Snapshot() {
		if op.RetryCount == 0 {
			continue
		}
		r.Retried++
		if op.Status == core.StatusCompleted {
			r.Recovered++
		}
	}
	return r
}

// GetProcessingStatistics returns the comprehensive statistics snapshot.
func (e *Engine) GetProcessingStatistics(ctx context.Context) (stats.Snapshot, error) {
	return call(ctx, e, func(w *worker) stats.Snapshot {
		return w.stats.Snapshot()
	})
}

// GetProcessingHistory returns up to limit recent batches, oldest first.
// A non-positive limit selects the default of 100.
func (e *Engine) GetProcessingHistory(ctx context.Context, limit int) ([]stats.HistoryEntry, error) {
	if limit <= 0 {
		limit = stats.DefaultHistoryLimit
	}
	return call(ctx, e, func(w *worker) []stats.HistoryEntry {
		return w.stats.History(limit)
	})
}

// GetRollingAverages returns averages over the last 10, 50 and 100 batches.
func (e *Engine) GetRollingAverages(ctx context.Context) (stats.RollingAverages, error) {
	return call(ctx, e, func(w *worker) stats.RollingAverages {
		return w.stats.RollingAverages()
	})
}

// GetOperationTypeStatistics breaks totals down by operation type.
func (e *Engine) GetOperationTypeStatistics(ctx context.Context) (stats.TypeStatistics, error) {
	return call(ctx, e, func(w *worker) stats.TypeStatistics {
		return w.stats.OperationTypeStatistics()
	})
}

// GetQueueUtilizationMetrics reports queue depth over time.
func (e *Engine) GetQueueUtilizationMetrics(ctx context.Context) (stats.Utilization, error) {
	return call(ctx, e, func(w *worker) stats.Utilization {
		return w.stats.QueueUtilization()
	})
}

// GetProcessingTrendAnalysis compares recent batches against earlier ones.
func (e *Engine) GetProcessingTrendAnalysis(ctx context.Context) (stats.TrendAnalysis, error) {
	return call(ctx, e, func(w *worker) stats.TrendAnalysis {
		return w.stats.TrendAnalysis()
	})
}

// ResetProcessingStatistics clears the batch history and totals.
func (e *Engine) ResetProcessingStatistics(ctx context.Context) error {
	_, err := call(ctx, e, func(w *worker) struct{} {
		w.stats.Reset()
		w.log.Info("processing statistics reset")
		return struct{}{}
	})
	return err
}

// GetExecutorCallStatistics counts executor invocations since the last reset.
func (e *Engine) GetExecutorCallStatistics(ctx context.Context) (ExecutorCallStatistics, error) {
	return call(ctx, e, func(w *worker) ExecutorCallStatistics {
		c := w.calls
		s := ExecutorCallStatistics{
			TotalCalls:         c.total,
			SuccessfulCalls:    c.successful,
			FailedCalls:        c.failed,
			TotalRetryAttempts: c.retries,
		}
		if c.total > 0 {
			s.SuccessRate = float64(c.successful) / float64(c.total) * 100
		}
		return s
	})
}

// ResetExecutorCallStatistics zeroes the executor call counters.
func (e *Engine) ResetExecutorCallStatistics(ctx context.Context) error {
	_, err := call(ctx, e, func(w *worker) struct{} {
		w.calls = callCounters{}
		return struct{}{}
	})
	return err
}

// GetBatchProcessingStatistics reports the safety gate counters and limits.
func (e *Engine) GetBatchProcessingStatistics(ctx context.Context) (BatchProcessingStatistics, error) {
	return call(ctx, e, func(w *worker) BatchProcessingStatistics {
		s := w.safety
		out := BatchProcessingStatistics{
			TotalBatchesProcessed:        s.batches,
			TotalEarlyTerminations:       s.earlyTerminations,
			TotalCyclesConsumedInBatches: s.cycles,
			TotalMemoryUsedInBatches:     s.memory,
			CurrentBatchSafetyLimits:     w.safetyLimits(),
		}
		if s.batches > 0 {
			n := float64(s.batches)
			out.AverageCyclesPerBatch = float64(s.cycles) / n
			out.AverageMemoryPerBatch = float64(s.memory) / n
			out.EarlyTerminationRate = float64(s.earlyTerminations) / n * 100
		}
		return out
	})
}

// ResetBatchProcessingStatistics zeroes the safety gate counters.
func (e *Engine) ResetBatchProcessingStatistics(ctx context.Context) error {
	_, err := call(ctx, e, func(w *worker) struct{} {
		w.safety = safetyCounters{}
		return struct{}{}
	})
	return err
}

func (w *worker) safetyLimits() SafetyLimits {
	return SafetyLimits{
		MaxBatchSize:             w.cfg.MaxBatchSize,
		MinCyclesThreshold:       w.cfg.MinCyclesThreshold,
		MaxMemoryUsageBytes:      w.cfg.MaxMemoryUsageBytes,
		MaxBatchProcessingTimeNs: w.cfg.MaxBatchProcessingTime.Nanoseconds(),
	}
}

// PerformMaintenance runs one maintenance action.
func (e *Engine) PerformMaintenance(ctx context.Context, op MaintenanceOperation) (MaintenanceResult, error) {
	return call(ctx, e, func(w *worker) MaintenanceResult {
		return w.maintain(ctx, op)
	})
}

// ClearCompletedOperations removes every Completed and Failed operation and
// returns how many were removed.
func (e *Engine) ClearCompletedOperations(ctx context.Context) (int, error) {
	return call(ctx, e, func(w *worker) int {
		return w.clearTerminal(ctx)
	})
}

// GetConfiguration returns a copy of the live configuration.
func (e *Engine) GetConfiguration(ctx context.Context) (Configuration, error) {
	return call(ctx, e, func(w *worker) Configuration {
		return w.cfg
	})
}

// UpdateConfiguration applies p if exactly one field is set and its value is
// in range. It reports whether the configuration changed.
func (e *Engine) UpdateConfiguration(ctx context.Context, p ConfigurationParameter) (bool, error) {
	return call(ctx, e, func(w *worker) bool {
		return w.updateConfiguration(p)
	})
}

// ConfigureBatchSafety clamps and applies the batch limits in s and returns
// the resulting configuration.
func (e *Engine) ConfigureBatchSafety(ctx context.Context, s BatchSafetySettings) (Configuration, error) {
	return call(ctx, e, func(w *worker) Configuration {
		w.configureBatchSafety(s)
		return w.cfg
	})
}
