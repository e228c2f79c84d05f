package stats

import "time"

// WindowAverages are averages over the most recent N batches.
type WindowAverages struct {
	AverageSuccessRate         float64       `json:"averageSuccessRate"`
	AverageProcessingDuration  time.Duration `json:"averageProcessingDuration"`
	AverageOperationsPerSecond float64       `json:"averageOperationsPerSecond"`
	AverageBatchSize           float64       `json:"averageBatchSize"`
}

// RollingAverages holds the 10, 50 and 100 batch windows.
type RollingAverages struct {
	Last10Batches  WindowAverages `json:"last10Batches"`
	Last50Batches  WindowAverages `json:"last50Batches"`
	Last100Batches WindowAverages `json:"last100Batches"`
}

// RollingAverages computes each window independently from the history.
func (e *Engine) RollingAverages() RollingAverages {
	return RollingAverages{
		Last10Batches:  windowAverages(e.history, 10),
		Last50Batches:  windowAverages(e.history, 50),
		Last100Batches: windowAverages(e.history, 100),
	}
}

// WindowAveragesOf averages the last w entries of history.
func WindowAveragesOf(history []HistoryEntry, w int) WindowAverages {
	return windowAverages(history, w)
}

func windowAverages(history []HistoryEntry, w int) WindowAverages {
	if w > len(history) {
		w = len(history)
	}
	recent := history[len(history)-w:]
	if len(recent) == 0 {
		return WindowAverages{}
	}

	var ops, successes int
	var duration time.Duration
	var opsPerSec float64
	for _, h := range recent {
		ops += h.BatchSize
		successes += h.SuccessCount
		duration += h.ProcessingDuration
		opsPerSec += h.OperationsPerSecond
	}
	n := float64(len(recent))
	avg := WindowAverages{
		AverageProcessingDuration:  duration / time.Duration(len(recent)),
		AverageOperationsPerSecond: opsPerSec / n,
		AverageBatchSize:           float64(ops) / n,
	}
	if ops > 0 {
		avg.AverageSuccessRate = float64(successes) / float64(ops) * 100
	}
	return avg
}
