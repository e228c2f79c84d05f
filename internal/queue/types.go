package queue

import (
	"encoding/json"
	"time"

	"github.com/rzpsarthak13/opqueue/internal/core"
	"github.com/rzpsarthak13/opqueue/internal/store"
)

// Early termination reasons.
const (
	ReasonTimeLimit = "Processing time limit exceeded"
	ReasonCycles    = "Insufficient cycles remaining"
	ReasonMemory    = "Memory usage limit exceeded"
	ReasonCancelled = "Batch cancelled"
)

// Configuration holds the limits the engine enforces. It can be changed at
// runtime through UpdateConfiguration and ConfigureBatchSafety.
type Configuration struct {
	MaxQueueSize             int
	MaxBatchSize             int
	MinCyclesThreshold       int64
	MaxMemoryUsageBytes      int64
	MaxBatchProcessingTime   time.Duration
	HealthCheckInterval      time.Duration
	MetricsCollectionEnabled bool

	// RejectWhenFull makes Submit fail with ErrQueueFull once the depth
	// reaches MaxQueueSize. When unset MaxQueueSize is advisory and only
	// feeds health and utilization reporting.
	RejectWhenFull bool
}

// DefaultConfiguration returns the built-in limits.
func DefaultConfiguration() Configuration {
	return Configuration{
		MaxQueueSize:             1000,
		MaxBatchSize:             50,
		MinCyclesThreshold:       1_000_000_000,
		MaxMemoryUsageBytes:      1_000_000_000,
		MaxBatchProcessingTime:   5 * time.Second,
		HealthCheckInterval:      time.Minute,
		MetricsCollectionEnabled: true,
	}
}

type configurationJSON struct {
	MaxQueueSize             int   `json:"maxQueueSize"`
	MaxBatchSize             int   `json:"maxBatchSize"`
	MinCyclesThreshold       int64 `json:"minCyclesThreshold"`
	MaxMemoryUsageBytes      int64 `json:"maxMemoryUsageBytes"`
	MaxBatchProcessingTimeNs int64 `json:"maxBatchProcessingTimeNs"`
	HealthCheckIntervalMs    int64 `json:"healthCheckIntervalMs"`
	MetricsCollectionEnabled bool  `json:"metricsCollectionEnabled"`
	RejectWhenFull           bool  `json:"rejectWhenFull"`
}

// MarshalJSON exposes durations as nanoseconds and milliseconds.
func (c Configuration) MarshalJSON() ([]byte, error) {
	return json.Marshal(configurationJSON{
		MaxQueueSize:             c.MaxQueueSize,
		MaxBatchSize:             c.MaxBatchSize,
		MinCyclesThreshold:       c.MinCyclesThreshold,
		MaxMemoryUsageBytes:      c.MaxMemoryUsageBytes,
		MaxBatchProcessingTimeNs: c.MaxBatchProcessingTime.Nanoseconds(),
		HealthCheckIntervalMs:    c.HealthCheckInterval.Milliseconds(),
		MetricsCollectionEnabled: c.MetricsCollectionEnabled,
		RejectWhenFull:           c.RejectWhenFull,
	})
}

// ConfigurationParameter changes exactly one setting. Exactly one field must be set.
type ConfigurationParameter struct {
	MaxQueueSize             *int   `json:"maxQueueSize,omitempty"`
	MaxBatchSize             *int   `json:"maxBatchSize,omitempty"`
	MinCyclesThreshold       *int64 `json:"minCyclesThreshold,omitempty"`
	MaxMemoryUsageBytes      *int64 `json:"maxMemoryUsageBytes,omitempty"`
	MaxBatchProcessingTimeNs *int64 `json:"maxBatchProcessingTimeNs,omitempty"`
	HealthCheckIntervalMs    *int64 `json:"healthCheckIntervalMs,omitempty"`
	MetricsCollectionEnabled *bool  `json:"metricsCollectionEnabled,omitempty"`
}

// BatchSafetySettings adjusts the batch limits. Nil fields are left unchanged
// and values are clamped into range.
type BatchSafetySettings struct {
	MaxBatchSize             *int   `json:"maxBatchSize,omitempty"`
	MinCyclesThreshold       *int64 `json:"minCyclesThreshold,omitempty"`
	MaxMemoryUsageBytes      *int64 `json:"maxMemoryUsageBytes,omitempty"`
	MaxBatchProcessingTimeNs *int64 `json:"maxBatchProcessingTimeNs,omitempty"`
}

// ProcessingStatistics summarizes one batch.
type ProcessingStatistics struct {
	TotalProcessed      int           `json:"totalProcessed"`
	SuccessCount        int           `json:"successCount"`
	FailureCount        int           `json:"failureCount"`
	RetryCount          int           `json:"retryCount"`
	ProcessingDuration  time.Duration `json:"processingDuration"`
	OperationsPerSecond float64       `json:"operationsPerSecond"`
}

// QueueStateAfterProcessing describes the queue when a batch ends.
type QueueStateAfterProcessing struct {
	RemainingQueueDepth int  `json:"remainingQueueDepth"`
	NextBatchAvailable  bool `json:"nextBatchAvailable"`
}

// BatchResult is the outcome of one ProcessBatch call.
type BatchResult struct {
	ProcessedOperationIDs     []string                      `json:"processedOperationIds"`
	SuccessfulOperations      []string                      `json:"successfulOperations"`
	FailedOperations          []string                      `json:"failedOperations"` // terminal failures only
	OperationStatuses         map[string]core.Status        `json:"operationStatuses"`
	OperationTypes            map[string]core.OperationType `json:"operationTypes"`
	Errors                    map[string]string             `json:"errors"`
	ProcessingStatistics      ProcessingStatistics          `json:"processingStatistics"`
	QueueStateAfterProcessing QueueStateAfterProcessing     `json:"queueStateAfterProcessing"`
	CyclesConsumed            int64                         `json:"cyclesConsumed"`
	MemoryUsed                int64                         `json:"memoryUsed"`
	BatchTerminatedEarly      bool                          `json:"batchTerminatedEarly"`
	EarlyTerminationReason    string                        `json:"earlyTerminationReason,omitempty"`
}

func newBatchResult() BatchResult {
	return BatchResult{
		ProcessedOperationIDs: []string{},
		SuccessfulOperations:  []string{},
		FailedOperations:      []string{},
		OperationStatuses:     map[string]core.Status{},
		OperationTypes:        map[string]core.OperationType{},
		Errors:                map[string]string{},
	}
}

// QueueStatistics counts operations by status.
type QueueStatistics struct {
	TotalOperationsQueued    int    `json:"totalOperationsQueued"`
	TotalOperationsCompleted int    `json:"totalOperationsCompleted"`
	TotalOperationsFailed    int    `json:"totalOperationsFailed"`
	CurrentQueueDepth        int    `json:"currentQueueDepth"`
	MaxQueueSize             int    `json:"maxQueueSize"`
	NextQueuePosition        uint64 `json:"nextQueuePosition"`
	CurrentlyProcessing      int    `json:"currentlyProcessing"`
	CurrentlyRetrying        int    `json:"currentlyRetrying"`
	PendingRetries           int    `json:"pendingRetries"`
}

// Metrics is the operational summary returned by GetQueueMetrics.
type Metrics struct {
	TotalOperationsQueued    int           `json:"totalOperationsQueued"`
	TotalOperationsCompleted int           `json:"totalOperationsCompleted"`
	TotalOperationsFailed    int           `json:"totalOperationsFailed"`
	TotalOperationsRetried   int           `json:"totalOperationsRetried"`
	CurrentQueueDepth        int           `json:"currentQueueDepth"`
	AverageQueueTime         time.Duration `json:"averageQueueTime"`
	AverageProcessingTime    time.Duration `json:"averageProcessingTime"`
	ThroughputPerMinute      float64       `json:"throughputPerMinute"`
	ErrorRate                float64       `json:"errorRate"`
	SuccessRate              float64       `json:"successRate"`
	PeakQueueDepth           int           `json:"peakQueueDepth"`
	TotalCyclesConsumed      int64         `json:"totalCyclesConsumed"`
	TotalMemoryUsed          int64         `json:"totalMemoryUsed"`
	Uptime                   time.Duration `json:"uptime"`
	LastMetricsUpdate        time.Time     `json:"lastMetricsUpdate"`
}

// MaintenanceKind names a maintenance action.
type MaintenanceKind string

const (
	MaintenancePurgeCompleted  MaintenanceKind = "PurgeCompleted"
	MaintenancePurgeFailed     MaintenanceKind = "PurgeFailed"
	MaintenancePurgeOld        MaintenanceKind = "PurgeOld"
	MaintenanceCompactQueue    MaintenanceKind = "CompactQueue"
	MaintenanceResetStatistics MaintenanceKind = "ResetStatistics"
	MaintenanceOptimizeMemory  MaintenanceKind = "OptimizeMemory"
)

// MaintenanceOperation selects a maintenance action. OlderThan is used by PurgeOld.
type MaintenanceOperation struct {
	Kind      MaintenanceKind `json:"operation"`
	OlderThan time.Duration   `json:"olderThan,omitempty"`
}

// PurgeOlderThan builds a PurgeOld operation.
func PurgeOlderThan(d time.Duration) MaintenanceOperation {
	return MaintenanceOperation{Kind: MaintenancePurgeOld, OlderThan: d}
}

// MaintenanceResult reports what a maintenance action did.
type MaintenanceResult struct {
	Operation     MaintenanceOperation `json:"operation"`
	Success       bool                 `json:"success"`
	ItemsAffected int                  `json:"itemsAffected"`
	MemoryFreed   int64                `json:"memoryFreed"`
	ExecutionTime time.Duration        `json:"executionTime"`
	Message       string               `json:"message"`
}

// SafetyLimits are the limits reported with batch statistics.
type SafetyLimits struct {
	MaxBatchSize             int   `json:"maxBatchSize"`
	MinCyclesThreshold       int64 `json:"minCyclesThreshold"`
	MaxMemoryUsageBytes      int64 `json:"maxMemoryUsageBytes"`
	MaxBatchProcessingTimeNs int64 `json:"maxBatchProcessingTimeNs"`
}

// BatchProcessingStatistics tracks the safety gates across batches.
type BatchProcessingStatistics struct {
	TotalBatchesProcessed        int          `json:"totalBatchesProcessed"`
	TotalEarlyTerminations       int          `json:"totalEarlyTerminations"`
	TotalCyclesConsumedInBatches int64        `json:"totalCyclesConsumedInBatches"`
	TotalMemoryUsedInBatches     int64        `json:"totalMemoryUsedInBatches"`
	AverageCyclesPerBatch        float64      `json:"averageCyclesPerBatch"`
	AverageMemoryPerBatch        float64      `json:"averageMemoryPerBatch"`
	EarlyTerminationRate         float64      `json:"earlyTerminationRate"`
	CurrentBatchSafetyLimits     SafetyLimits `json:"currentBatchSafetyLimits"`
}

// ExecutorCallStatistics counts executor invocations.
type ExecutorCallStatistics struct {
	TotalCalls         int     `json:"totalCalls"`
	SuccessfulCalls    int     `json:"successfulCalls"`
	FailedCalls        int     `json:"failedCalls"`
	TotalRetryAttempts int     `json:"totalRetryAttempts"`
	SuccessRate        float64 `json:"successRate"`
}

// InFlight is an operation currently being executed.
type InFlight = store.InFlight

type callCounters struct {
	total, successful, failed, retries int
}

type safetyCounters struct {
	batches, earlyTerminations int
	cycles, memory             int64
}
