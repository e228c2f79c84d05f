package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rzpsarthak13/opqueue/internal/core"
	"github.com/rzpsarthak13/opqueue/internal/stats"
	"github.com/rzpsarthak13/opqueue/internal/store"
)

// errInvalidResponse marks executor results that do not match the operation.
var errInvalidResponse = errors.New("invalid response")

func (w *worker) processBatch(ctx context.Context, requested int) BatchResult {
	result := newBatchResult()
	start := w.clock.Now()

	size := min(requested, w.cfg.MaxBatchSize)
	if size <= 0 {
		result.QueueStateAfterProcessing.RemainingQueueDepth = w.store.Depth()
		return result
	}

	w.promoteDue(start)
	selected := w.store.Eligible(size)
	if len(selected) == 0 {
		result.QueueStateAfterProcessing.RemainingQueueDepth = w.store.Depth()
		return result
	}

	w.safety.batches++
	depthBefore := w.store.Depth()
	memBefore := w.meter.MemoryUsage()
	outcomes := make([]stats.OperationOutcome, 0, len(selected))

	w.log.Debug("batch started", "requested", requested, "selected", len(selected), "queue_depth", depthBefore)

	for _, op := range selected {
		if reason := w.gate(ctx, start); reason != "" {
			result.BatchTerminatedEarly = true
			result.EarlyTerminationReason = reason
			w.safety.earlyTerminations++
			w.log.Warn("batch terminated early",
				"reason", reason,
				"processed", len(result.ProcessedOperationIDs),
				"selected", len(selected),
			)
			break
		}
		if outcome, ran := w.executeOne(ctx, op, len(selected), &result); ran {
			outcomes = append(outcomes, outcome)
		}
	}

	end := w.clock.Now()
	duration := end.Sub(start)
	result.MemoryUsed = max(0, w.meter.MemoryUsage()-memBefore)
	result.QueueStateAfterProcessing = QueueStateAfterProcessing{
		RemainingQueueDepth: w.store.Depth(),
		NextBatchAvailable:  w.store.HasEligible(),
	}

	entry := w.stats.Record(stats.BatchMetrics{
		Timestamp:         end,
		Outcomes:          outcomes,
		Duration:          duration,
		CyclesConsumed:    result.CyclesConsumed,
		MemoryUsed:        result.MemoryUsed,
		QueueDepthBefore:  depthBefore,
		QueueDepthAfter:   result.QueueStateAfterProcessing.RemainingQueueDepth,
		MaxQueueSize:      w.cfg.MaxQueueSize,
		TerminatedEarly:   result.BatchTerminatedEarly,
		TerminationReason: result.EarlyTerminationReason,
	})
	result.ProcessingStatistics = ProcessingStatistics{
		TotalProcessed:      entry.BatchSize,
		SuccessCount:        entry.SuccessCount,
		FailureCount:        entry.FailureCount,
		RetryCount:          entry.RetryCount,
		ProcessingDuration:  duration,
		OperationsPerSecond: entry.OperationsPerSecond,
	}

	w.safety.cycles += result.CyclesConsumed
	w.safety.memory += result.MemoryUsed

	if m := w.metrics(); m != nil {
		m.ObserveBatch(result)
		m.ObserveQueueDepth(result.QueueStateAfterProcessing.RemainingQueueDepth)
	}
	if w.batchSink != nil {
		w.batchSink.RecordBatch(entry)
	}
	w.armWake(end)

	w.log.Info("batch processed",
		"processed", entry.BatchSize,
		"succeeded", entry.SuccessCount,
		"retrying", entry.RetryCount,
		"failed", entry.FailureCount,
		"duration", duration,
		"remaining", result.QueueStateAfterProcessing.RemainingQueueDepth,
	)
	return result
}

// gate returns the reason the batch must stop before the next operation, or
// the empty string when it may continue.
func (w *worker) gate(ctx context.Context, start time.Time) string {
	switch {
	case ctx.Err() != nil:
		return ReasonCancelled
	case w.clock.Since(start) > w.cfg.MaxBatchProcessingTime:
		return ReasonTimeLimit
	case w.meter.CyclesBalance() < w.cfg.MinCyclesThreshold:
		return ReasonCycles
	case w.meter.MemoryUsage() > w.cfg.MaxMemoryUsageBytes:
		return ReasonMemory
	}
	return ""
}

// executeOne runs a single selected operation and records it in result. The
// second return is false when the operation never started, in which case the
// outcome must not be counted.
func (w *worker) executeOne(ctx context.Context, op core.Operation, batchSize int, result *BatchResult) (stats.OperationOutcome, bool) {
	opType := op.Kind.Type()
	outcome := stats.OperationOutcome{Type: opType}

	startedAt := w.clock.Now()
	if err := w.store.Transition(op.ID, core.StatusProcessing, store.Update{At: startedAt}); err != nil {
		// Only reachable if the record was removed between selection and execution.
		w.log.Error("cannot start operation", "id", op.ID, "error", err)
		return outcome, false
	}
	result.ProcessedOperationIDs = append(result.ProcessedOperationIDs, op.ID)
	result.OperationTypes[op.ID] = opType

	res, execErr := w.invoke(ctx, op.Kind)
	w.meter.Charge(w.cyclesPerOp)
	result.CyclesConsumed += w.cyclesPerOp
	w.calls.total++

	now := w.clock.Now()
	outcome.Duration = now.Sub(startedAt)

	if execErr == nil {
		w.calls.successful++
		outcome.Success = true
		_ = w.store.Transition(op.ID, core.StatusCompleted, store.Update{At: now, Result: res})
		result.SuccessfulOperations = append(result.SuccessfulOperations, op.ID)
		result.OperationStatuses[op.ID] = core.StatusCompleted
		return outcome, true
	}

	w.calls.failed++

	rec := w.classifier.Classify(execErr, opType, op.RetryCount, op.ID, now)
	rec.Context.BatchProcessing = true
	rec.Context.BatchSize = batchSize

	if rec.Recoverable && !w.sched.Backoff().Exhausted(op.RetryCount) {
		plan, err := w.sched.Schedule(op.ID, op.RetryCount, now)
		if err == nil {
			rec.Context.RetryDelay = &plan.Delay
			rec.Context.NextRetryTime = &plan.NotBefore
			w.errs.Log(rec)

			msg := fmt.Sprintf("Retry attempt %d/%d scheduled", plan.RetryCount, core.MaxRetryAttempts)
			_ = w.store.Transition(op.ID, core.StatusRetrying, store.Update{
				At:           now,
				ErrorMessage: &msg,
				RetryCount:   &plan.RetryCount,
				NotBefore:    &plan.NotBefore,
			})
			w.calls.retries++
			outcome.Retried = true
			result.OperationStatuses[op.ID] = core.StatusRetrying
			result.Errors[op.ID] = fmt.Sprintf("Scheduled for retry (attempt %d/%d)", plan.RetryCount, core.MaxRetryAttempts)
			w.log.Debug("retry scheduled", "id", op.ID, "attempt", plan.RetryCount, "delay", plan.Delay)
			return outcome, true
		}
		w.log.Warn("cannot schedule retry", "id", op.ID, "error", err)
	}

	rec.Context.FinalFailure = true
	w.errs.Log(rec)

	msg := fmt.Sprintf("Permanently failed after %d retry attempts: %v", op.RetryCount, execErr)
	if !rec.Recoverable {
		msg = fmt.Sprintf("Permanently failed (%s is not recoverable): %v", rec.Category, execErr)
	}
	_ = w.store.Transition(op.ID, core.StatusFailed, store.Update{At: now, ErrorMessage: &msg})
	w.sched.Cancel(op.ID)

	final := w.classifier.PermanentFailure(execErr, opType, op.ID, now)
	final.Context.RetryCount = op.RetryCount
	final.Context.BatchProcessing = true
	final.Context.BatchSize = batchSize
	w.errs.Log(final)

	outcome.Failed = true
	result.FailedOperations = append(result.FailedOperations, op.ID)
	result.OperationStatuses[op.ID] = core.StatusFailed
	result.Errors[op.ID] = msg
	return outcome, true
}

// invoke calls the executor, turning panics and mismatched results into errors.
func (w *worker) invoke(ctx context.Context, kind core.OperationKind) (res core.OperationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("executor panicked", "type", kind.Type(), "panic", r)
			res, err = nil, &core.PanicError{Value: r}
		}
	}()

	res, err = w.exec.Execute(ctx, kind)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("%w: no result for %s", errInvalidResponse, kind.Type())
	}
	if res.ResultType() != kind.Type() {
		return nil, fmt.Errorf("%w: %s result for %s operation", errInvalidResponse, res.ResultType(), kind.Type())
	}
	return res, nil
}
