package stats

import "math"

// Trend directions.
const (
	TrendStable     = "stable"
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendImproving  = "improving"
	TrendDegrading  = "degrading"
)

const (
	minTrendSamples = 10
	trendWindow     = 20

	throughputThreshold = 0.05
	successThreshold    = 0.02
	durationThreshold   = 0.05
)

// TrendAnalysis compares recent batches against the ones before them.
type TrendAnalysis struct {
	PerformanceTrend   string   `json:"performanceTrend"`
	SuccessRateTrend   string   `json:"successRateTrend"`
	ThroughputTrend    string   `json:"throughputTrend"`
	EfficiencyTrend    string   `json:"efficiencyTrend"`
	TrendConfidence    float64  `json:"trendConfidence"`
	RecommendedActions []string `json:"recommendedActions"`
}

// TrendAnalysis compares the last 20 entries with the 20 before them.
func (e *Engine) TrendAnalysis() TrendAnalysis {
	if len(e.history) < minTrendSamples {
		return TrendAnalysis{
			PerformanceTrend:   TrendStable,
			SuccessRateTrend:   TrendStable,
			ThroughputTrend:    TrendStable,
			EfficiencyTrend:    TrendStable,
			RecommendedActions: []string{"Insufficient data for trend analysis. Process more batches to generate insights."},
		}
	}

	n := len(e.history)
	recent := e.history[max(0, n-trendWindow):]
	older := e.history[max(0, n-2*trendWindow):max(0, n-trendWindow)]

	recentOps, recentSuccess, recentDur := means(recent)
	olderOps, olderSuccess, olderDur := recentOps, recentSuccess, recentDur
	if len(older) > 0 {
		olderOps, olderSuccess, olderDur = means(older)
	}

	throughput := classify(relativeChange(recentOps, olderOps), throughputThreshold, TrendIncreasing, TrendDecreasing)
	success := classify(recentSuccess-olderSuccess, successThreshold, TrendImproving, TrendDegrading)
	performance := classify(relativeChange(recentDur, olderDur), durationThreshold, TrendDegrading, TrendImproving)

	efficiency := TrendStable
	switch {
	case throughput == TrendIncreasing && performance != TrendDegrading:
		efficiency = TrendImproving
	case throughput == TrendDecreasing || performance == TrendDegrading:
		efficiency = TrendDegrading
	}

	var actions []string
	if success == TrendDegrading {
		actions = append(actions, "Investigate increasing failure rates - check error logs for patterns")
	}
	if performance == TrendDegrading {
		actions = append(actions, "Performance degradation detected - consider reducing batch sizes or optimizing operations")
	}
	if throughput == TrendDecreasing {
		actions = append(actions, "Throughput declining - review system resources and queue utilization")
	}
	if efficiency == TrendImproving {
		actions = append(actions, "System efficiency improving - current configuration appears optimal")
	}
	if len(actions) == 0 {
		actions = append(actions, "System performance is stable - continue monitoring for changes")
	}

	return TrendAnalysis{
		PerformanceTrend:   performance,
		SuccessRateTrend:   success,
		ThroughputTrend:    throughput,
		EfficiencyTrend:    efficiency,
		TrendConfidence:    min(95, max(50, float64(len(recent))*5)),
		RecommendedActions: actions,
	}
}

// means returns the average ops/sec, success ratio and duration in seconds.
// Empty batches do not count towards the success ratio.
func means(entries []HistoryEntry) (ops, success, duration float64) {
	counted := 0
	for _, h := range entries {
		ops += h.OperationsPerSecond
		duration += h.ProcessingDuration.Seconds()
		if h.BatchSize > 0 {
			success += float64(h.SuccessCount) / float64(h.BatchSize)
			counted++
		}
	}
	n := float64(len(entries))
	if counted > 0 {
		success /= float64(counted)
	}
	return ops / n, success, duration / n
}

func relativeChange(recent, older float64) float64 {
	if older == 0 {
		if recent == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return (recent - older) / older
}

func classify(change, threshold float64, up, down string) string {
	switch {
	case change > threshold:
		return up
	case change < -threshold:
		return down
	default:
		return TrendStable
	}
}
