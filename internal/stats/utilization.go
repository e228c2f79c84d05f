package stats

import "time"

const utilizationWindow = 5

// Utilization describes queue depth over time.
type Utilization struct {
	QueueDepthHistory     []DepthSample `json:"queueDepthHistory"`
	AverageQueueDepth     float64       `json:"averageQueueDepth"`
	PeakQueueDepth        int           `json:"peakQueueDepth"`
	QueueUtilizationTrend string        `json:"queueUtilizationTrend"`
	TimeToProcessQueue    time.Duration `json:"timeToProcessQueue"`
}

// QueueUtilization reports the last 100 depth samples and derived trends.
func (e *Engine) QueueUtilization() Utilization {
	u := Utilization{
		QueueDepthHistory:     tail(e.depths, snapshotDepth),
		PeakQueueDepth:        e.peakQueueDepth,
		QueueUtilizationTrend: TrendStable,
	}
	if len(e.depths) == 0 {
		return u
	}

	sum := 0
	for _, d := range e.depths {
		sum += d.QueueDepth
	}
	u.AverageQueueDepth = float64(sum) / float64(len(e.depths))

	if n := len(e.depths); n >= 2*utilizationWindow {
		recent := avgDepth(e.depths[n-utilizationWindow:])
		older := avgDepth(e.depths[n-2*utilizationWindow : n-utilizationWindow])
		u.QueueUtilizationTrend = classify(relativeChange(recent, older), 0.1, TrendIncreasing, TrendDecreasing)
	}

	if rate := opsPerSecond(e.totalOperations, e.totalDuration); rate > 0 {
		last := e.depths[len(e.depths)-1].QueueDepth
		u.TimeToProcessQueue = time.Duration(float64(last) / rate * float64(time.Second))
	}
	return u
}

func avgDepth(samples []DepthSample) float64 {
	sum := 0
	for _, s := range samples {
		sum += s.QueueDepth
	}
	return float64(sum) / float64(len(samples))
}

// Snapshot is the comprehensive statistics view.
type Snapshot struct {
	PerformanceMetrics      Performance     `json:"performanceMetrics"`
	RollingAverages         RollingAverages `json:"rollingAverages"`
	OperationTypeStatistics TypeStatistics  `json:"operationTypeStatistics"`
	QueueUtilizationMetrics Utilization     `json:"queueUtilizationMetrics"`
	TrendAnalysis           TrendAnalysis   `json:"trendAnalysis"`
	ProcessingHistory       []HistoryEntry  `json:"processingHistory"`
	LastUpdated             time.Time       `json:"lastUpdated"`
}

// Snapshot gathers every view together with the last 50 history entries.
func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		PerformanceMetrics:      e.Performance(),
		RollingAverages:         e.RollingAverages(),
		OperationTypeStatistics: e.OperationTypeStatistics(),
		QueueUtilizationMetrics: e.QueueUtilization(),
		TrendAnalysis:           e.TrendAnalysis(),
		ProcessingHistory:       tail(e.history, snapshotHistory),
		LastUpdated:             e.lastUpdated,
	}
}
