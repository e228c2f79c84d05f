package stats

import (
	"time"

	"github.com/rzpsarthak13/opqueue/internal/core"
)

// Performance summarizes every batch recorded since the last reset.
// Rates are percentages.
type Performance struct {
	TotalBatchesProcessed      int           `json:"totalBatchesProcessed"`
	TotalOperationsProcessed   int           `json:"totalOperationsProcessed"`
	OverallSuccessRate         float64       `json:"overallSuccessRate"`
	OverallFailureRate         float64       `json:"overallFailureRate"`
	OverallRetryRate           float64       `json:"overallRetryRate"`
	AverageProcessingDuration  time.Duration `json:"averageProcessingDuration"`
	AverageOperationsPerSecond float64       `json:"averageOperationsPerSecond"`
	PeakOperationsPerSecond    float64       `json:"peakOperationsPerSecond"`
	AverageBatchSize           float64       `json:"averageBatchSize"`
	MaxBatchSize               int           `json:"maxBatchSize"`
	AverageCyclesPerOperation  float64       `json:"averageCyclesPerOperation"`
	AverageMemoryPerOperation  float64       `json:"averageMemoryPerOperation"`
	TotalProcessingTime        time.Duration `json:"totalProcessingTime"`
	ProcessingEfficiencyScore  float64       `json:"processingEfficiencyScore"`
}

// Performance derives the aggregate metrics.
func (e *Engine) Performance() Performance {
	p := Performance{
		TotalBatchesProcessed:    e.totalBatches,
		TotalOperationsProcessed: e.totalOperations,
		PeakOperationsPerSecond:  e.peakOpsPerSec,
		MaxBatchSize:             e.peakBatchSize,
		TotalProcessingTime:      e.totalDuration,
	}
	successRatio := 0.0
	if e.totalOperations > 0 {
		ops := float64(e.totalOperations)
		successRatio = float64(e.totalSuccess) / ops
		p.OverallSuccessRate = successRatio * 100
		p.OverallFailureRate = float64(e.totalFailure) / ops * 100
		p.OverallRetryRate = float64(e.totalRetry) / ops * 100
		p.AverageCyclesPerOperation = float64(e.totalCycles) / ops
		p.AverageMemoryPerOperation = float64(e.totalMemory) / ops
	}
	if e.totalBatches > 0 {
		p.AverageProcessingDuration = e.totalDuration / time.Duration(e.totalBatches)
		p.AverageBatchSize = float64(e.totalOperations) / float64(e.totalBatches)
	}
	p.AverageOperationsPerSecond = opsPerSecond(e.totalOperations, e.totalDuration)
	p.ProcessingEfficiencyScore = clamp(e.peakOpsPerSec/100*50+successRatio*50, 0, 100)
	return p
}

// TypeStats is the breakdown for one operation type.
type TypeStats struct {
	TotalProcessed        int           `json:"totalProcessed"`
	SuccessCount          int           `json:"successCount"`
	FailureCount          int           `json:"failureCount"`
	RetryCount            int           `json:"retryCount"`
	AverageProcessingTime time.Duration `json:"averageProcessingTime"`
	SuccessRate           float64       `json:"successRate"`
}

// TypeStatistics groups TypeStats by operation type.
type TypeStatistics struct {
	Set    TypeStats `json:"setOperations"`
	Get    TypeStats `json:"getOperations"`
	Delete TypeStats `json:"deleteOperations"`
}

// OperationTypeStatistics reports per-type counts and timings.
func (e *Engine) OperationTypeStatistics() TypeStatistics {
	return TypeStatistics{
		Set:    e.typeStats(core.OperationSet),
		Get:    e.typeStats(core.OperationGet),
		Delete: e.typeStats(core.OperationDelete),
	}
}

func (e *Engine) typeStats(t core.OperationType) TypeStats {
	tc := e.types[t]
	if tc == nil {
		return TypeStats{}
	}
	s := TypeStats{
		TotalProcessed: tc.total,
		SuccessCount:   tc.success,
		FailureCount:   tc.failure,
		RetryCount:     tc.retry,
	}
	if tc.total > 0 {
		s.AverageProcessingTime = tc.duration / time.Duration(tc.total)
		s.SuccessRate = float64(tc.success) / float64(tc.total) * 100
	}
	return s
}

func clamp(v, lo, hi float64) float64 {
	return min(hi, max(lo, v))
}
