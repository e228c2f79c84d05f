package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/rzpsarthak13/opqueue/internal/core"
)

// staleProcessingAge is how long an operation may stay in Processing before
// OptimizeMemory evicts it.
const staleProcessingAge = time.Hour

// recordOverhead approximates the bytes held by one stored operation besides
// its key and value.
const recordOverhead = 256

func (w *worker) maintain(ctx context.Context, op MaintenanceOperation) MaintenanceResult {
	start := w.clock.Now()
	res := MaintenanceResult{Operation: op, Success: true}

	switch op.Kind {
	case MaintenancePurgeCompleted:
		removed := w.purge(ctx, func(o core.Operation) bool { return o.Status == core.StatusCompleted })
		res.ItemsAffected, res.MemoryFreed = len(removed), estimateSize(removed)
		res.Message = fmt.Sprintf("Purged %d completed operations", len(removed))

	case MaintenancePurgeFailed:
		removed := w.purge(ctx, func(o core.Operation) bool { return o.Status == core.StatusFailed })
		res.ItemsAffected, res.MemoryFreed = len(removed), estimateSize(removed)
		res.Message = fmt.Sprintf("Purged %d failed operations", len(removed))

	case MaintenancePurgeOld:
		if op.OlderThan <= 0 {
			res.Success = false
			res.Message = "PurgeOld requires a positive age"
			break
		}
		cutoff := start.Add(-op.OlderThan)
		removed := w.purge(ctx, func(o core.Operation) bool { return o.QueuedAt.Before(cutoff) })
		res.ItemsAffected, res.MemoryFreed = len(removed), estimateSize(removed)
		res.Message = fmt.Sprintf("Purged %d operations older than %s", len(removed), op.OlderThan)

	case MaintenanceCompactQueue:
		active := w.store.Compact()
		res.ItemsAffected = active
		res.Message = fmt.Sprintf("Compacted queue with %d active operations", active)

	case MaintenanceResetStatistics:
		w.stats.Reset()
		w.calls = callCounters{}
		w.safety = safetyCounters{}
		w.startedAt = start
		res.Message = "All statistics have been reset"

	case MaintenanceOptimizeMemory:
		cutoff := start.Add(-staleProcessingAge)
		evicted := w.store.Evict(func(o core.Operation) bool {
			return o.ProcessingStartedAt != nil && o.ProcessingStartedAt.Before(cutoff)
		})
		for _, o := range evicted {
			w.sched.Cancel(o.ID)
		}
		res.ItemsAffected, res.MemoryFreed = len(evicted), estimateSize(evicted)
		res.Message = fmt.Sprintf("Cleaned up %d stale processing operations", len(evicted))

	default:
		res.Success = false
		res.Message = fmt.Sprintf("Unknown maintenance operation %q", op.Kind)
	}

	res.ExecutionTime = w.clock.Since(start)
	w.log.Info("maintenance performed",
		"operation", op.Kind,
		"success", res.Success,
		"items", res.ItemsAffected,
		"message", res.Message,
	)
	return res
}

func (w *worker) clearTerminal(ctx context.Context) int {
	removed := w.purge(ctx, func(core.Operation) bool { return true })
	w.log.Info("cleared terminal operations", "count", len(removed))
	return len(removed)
}

// purge archives and then removes the terminal operations matching match.
// An archive failure is logged and does not stop the purge.
func (w *worker) purge(ctx context.Context, match func(core.Operation) bool) []core.Operation {
	var targets []core.Operation
	for _, op := range w.store.Snapshot() {
		if op.Status.Terminal() && match(op) {
			targets = append(targets, op)
		}
	}
	if len(targets) == 0 {
		return nil
	}

	if w.archive != nil {
		if err := w.archive.Archive(ctx, targets); err != nil {
			w.log.Warn("archive purged operations failed", "count", len(targets), "error", err)
		}
	}

	ids := make(map[string]struct{}, len(targets))
	for _, op := range targets {
		ids[op.ID] = struct{}{}
	}
	removed := w.store.Purge(func(op core.Operation) bool {
		_, ok := ids[op.ID]
		return ok
	})
	for _, op := range removed {
		w.sched.Cancel(op.ID)
	}
	return removed
}

func estimateSize(ops []core.Operation) int64 {
	var n int64
	for _, op := range ops {
		rec := core.RecordOf(op.Kind)
		n += recordOverhead + int64(len(rec.Key)+len(rec.Value)+len(op.ErrorMessage))
	}
	return n
}

func (w *worker) queueMetrics() Metrics {
	now := w.clock.Now()
	counts := w.store.Counts()
	processed := w.stats.TotalOperations()

	m := Metrics{
		TotalOperationsQueued:    counts[core.StatusQueued],
		TotalOperationsCompleted: counts[core.StatusCompleted],
		TotalOperationsFailed:    counts[core.StatusFailed],
		TotalOperationsRetried:   w.stats.TotalRetries(),
		CurrentQueueDepth:        w.store.Depth(),
		PeakQueueDepth:           w.stats.PeakQueueDepth(),
		TotalCyclesConsumed:      w.stats.TotalCycles(),
		TotalMemoryUsed:          w.stats.TotalMemory(),
		Uptime:                   now.Sub(w.startedAt),
		LastMetricsUpdate:        now,
	}

	var waited time.Duration
	started := 0
	for _, op := range w.store.Snapshot() {
		if op.ProcessingStartedAt != nil {
			waited += op.ProcessingStartedAt.Sub(op.QueuedAt)
			started++
		}
	}
	if started > 0 {
		m.AverageQueueTime = waited / time.Duration(started)
	}

	if processed > 0 {
		m.AverageProcessingTime = w.stats.TotalDuration() / time.Duration(processed)
		m.ErrorRate = float64(w.stats.TotalFailures()) / float64(processed)
		m.SuccessRate = float64(w.stats.TotalSuccesses()) / float64(processed)
	}
	if m.Uptime > 0 {
		m.ThroughputPerMinute = float64(processed) / m.Uptime.Minutes()
	}
	return m
}
