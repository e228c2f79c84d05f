// Package stats accumulates per-batch processing history and derives
// rolling averages, per-type breakdowns, queue utilization and trends.
package stats

import (
	"time"

	"github.com/rzpsarthak13/opqueue/internal/core"
)

const (
	// HistoryCapacity bounds the processing history.
	HistoryCapacity = 1000

	// DepthCapacity bounds the queue depth samples.
	DepthCapacity = 500

	// DefaultHistoryLimit is used by History when limit is not positive.
	DefaultHistoryLimit = 100

	snapshotHistory = 50
	snapshotDepth   = 100
)

// OperationOutcome is the result of one executed operation in a batch.
type OperationOutcome struct {
	Type     core.OperationType
	Success  bool
	Retried  bool
	Failed   bool
	Duration time.Duration
}

// BatchMetrics describes one processed batch.
type BatchMetrics struct {
	Timestamp         time.Time
	Outcomes          []OperationOutcome
	Duration          time.Duration
	CyclesConsumed    int64
	MemoryUsed        int64
	QueueDepthBefore  int
	QueueDepthAfter   int
	MaxQueueSize      int
	TerminatedEarly   bool
	TerminationReason string
}

// TypeCounts counts operations per type.
type TypeCounts struct {
	Set    int `json:"setOperations"`
	Get    int `json:"getOperations"`
	Delete int `json:"deleteOperations"`
}

func (c *TypeCounts) add(t core.OperationType) {
	switch t {
	case core.OperationSet:
		c.Set++
	case core.OperationGet:
		c.Get++
	case core.OperationDelete:
		c.Delete++
	}
}

// HistoryEntry is one recorded batch.
type HistoryEntry struct {
	Timestamp              time.Time     `json:"timestamp"`
	BatchSize              int           `json:"batchSize"`
	SuccessCount           int           `json:"successCount"`
	FailureCount           int           `json:"failureCount"`
	RetryCount             int           `json:"retryCount"`
	ProcessingDuration     time.Duration `json:"processingDuration"`
	OperationsPerSecond    float64       `json:"operationsPerSecond"`
	CyclesConsumed         int64         `json:"cyclesConsumed"`
	MemoryUsed             int64         `json:"memoryUsed"`
	OperationTypes         TypeCounts    `json:"operationTypes"`
	QueueDepthBefore       int           `json:"queueDepthBefore"`
	QueueDepthAfter        int           `json:"queueDepthAfter"`
	BatchTerminatedEarly   bool          `json:"batchTerminatedEarly"`
	EarlyTerminationReason string        `json:"earlyTerminationReason,omitempty"`
}

// DepthSample is the queue depth observed when a batch started.
type DepthSample struct {
	Timestamp             time.Time `json:"timestamp"`
	QueueDepth            int       `json:"queueDepth"`
	MaxQueueSize          int       `json:"maxQueueSize"`
	UtilizationPercentage float64   `json:"utilizationPercentage"`
}

type typeCounter struct {
	total, success, failure, retry int
	duration                       time.Duration
}

// Engine owns the processing history and running totals.
// It is not safe for concurrent use.
type Engine struct {
	history []HistoryEntry
	depths  []DepthSample

	totalOperations int
	totalBatches    int
	totalSuccess    int
	totalFailure    int
	totalRetry      int
	totalDuration   time.Duration
	totalCycles     int64
	totalMemory     int64
	peakOpsPerSec   float64
	peakBatchSize   int
	peakQueueDepth  int
	lastUpdated     time.Time

	types map[core.OperationType]*typeCounter
}

// NewEngine creates an empty Engine.
func NewEngine() *Engine {
	e := &Engine{}
	e.Reset()
	return e
}

// Record folds one batch into the history and totals.
func (e *Engine) Record(m BatchMetrics) HistoryEntry {
	entry := HistoryEntry{
		Timestamp:              m.Timestamp,
		BatchSize:              len(m.Outcomes),
		ProcessingDuration:     m.Duration,
		CyclesConsumed:         m.CyclesConsumed,
		MemoryUsed:             m.MemoryUsed,
		QueueDepthBefore:       m.QueueDepthBefore,
		QueueDepthAfter:        m.QueueDepthAfter,
		BatchTerminatedEarly:   m.TerminatedEarly,
		EarlyTerminationReason: m.TerminationReason,
	}
	for _, o := range m.Outcomes {
		entry.OperationTypes.add(o.Type)
		tc := e.types[o.Type]
		if tc == nil {
			tc = &typeCounter{}
			e.types[o.Type] = tc
		}
		tc.total++
		tc.duration += o.Duration
		switch {
		case o.Success:
			entry.SuccessCount++
			tc.success++
		case o.Failed:
			entry.FailureCount++
			tc.failure++
		case o.Retried:
			entry.RetryCount++
			tc.retry++
		}
	}
	entry.OperationsPerSecond = opsPerSecond(entry.BatchSize, m.Duration)

	e.history = append(e.history, entry)
	if len(e.history) > HistoryCapacity {
		e.history = append(e.history[:0:0], e.history[len(e.history)-HistoryCapacity:]...)
	}

	util := 0.0
	if m.MaxQueueSize > 0 {
		util = float64(m.QueueDepthBefore) / float64(m.MaxQueueSize) * 100
	}
	e.depths = append(e.depths, DepthSample{
		Timestamp:             m.Timestamp,
		QueueDepth:            m.QueueDepthBefore,
		MaxQueueSize:          m.MaxQueueSize,
		UtilizationPercentage: util,
	})
	if len(e.depths) > DepthCapacity {
		e.depths = append(e.depths[:0:0], e.depths[len(e.depths)-DepthCapacity:]...)
	}

	e.totalOperations += entry.BatchSize
	e.totalBatches++
	e.totalSuccess += entry.SuccessCount
	e.totalFailure += entry.FailureCount
	e.totalRetry += entry.RetryCount
	e.totalDuration += m.Duration
	e.totalCycles += m.CyclesConsumed
	e.totalMemory += m.MemoryUsed
	e.peakOpsPerSec = max(e.peakOpsPerSec, entry.OperationsPerSecond)
	e.peakBatchSize = max(e.peakBatchSize, entry.BatchSize)
	e.peakQueueDepth = max(e.peakQueueDepth, m.QueueDepthBefore)
	e.lastUpdated = m.Timestamp
	return entry
}

func opsPerSecond(n int, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / d.Seconds()
}

// Reset zeroes history and totals.
func (e *Engine) Reset() {
	*e = Engine{types: make(map[core.OperationType]*typeCounter)}
}

// Len returns the number of history entries.
func (e *Engine) Len() int { return len(e.history) }

// History returns up to limit of the most recent entries, oldest first.
func (e *Engine) History(limit int) []HistoryEntry {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return tail(e.history, limit)
}

// TotalOperations returns the number of operations executed since the last reset.
func (e *Engine) TotalOperations() int { return e.totalOperations }

// TotalFailures returns the number of terminal failures since the last reset.
func (e *Engine) TotalFailures() int { return e.totalFailure }

// TotalSuccesses returns the number of completed operations since the last reset.
func (e *Engine) TotalSuccesses() int { return e.totalSuccess }

// TotalRetries is the number of executions that ended in a scheduled retry.
func (e *Engine) TotalRetries() int { return e.totalRetry }

// TotalBatches returns the number of recorded batches since the last reset.
func (e *Engine) TotalBatches() int { return e.totalBatches }

// TotalDuration returns the summed batch duration since the last reset.
func (e *Engine) TotalDuration() time.Duration { return e.totalDuration }

// PeakQueueDepth returns the largest queue depth seen at batch start.
func (e *Engine) PeakQueueDepth() int { return e.peakQueueDepth }

// TotalCycles returns the cycles consumed by recorded batches.
func (e *Engine) TotalCycles() int64 { return e.totalCycles }

// TotalMemory returns the memory attributed to recorded batches.
func (e *Engine) TotalMemory() int64 { return e.totalMemory }

func tail[T any](s []T, n int) []T {
	if n > len(s) {
		n = len(s)
	}
	return append([]T(nil), s[len(s)-n:]...)
}
