package queue

import (
	"time"
)

// Accepted ranges for UpdateConfiguration.
const (
	minQueueSize         = 1
	maxQueueSize         = 10_000
	minBatchSize         = 1
	maxBatchSize         = 1_000
	minCyclesThreshold   = 100_000_000
	minMemoryUsageBytes  = 100_000_000
	maxMemoryUsageBytes  = 4_000_000_000
	minBatchTime         = time.Second
	maxBatchTime         = 60 * time.Second
	minHealthInterval    = time.Second
	maxHealthInterval    = time.Hour
	safetyMaxBatchSize   = 100
	safetyMaxMemoryBytes = 2_000_000_000
	safetyMaxBatchTime   = 30 * time.Second
)

func between[T int | int64 | time.Duration](v, lo, hi T) bool {
	return v >= lo && v <= hi
}

// fieldsSet counts the non-nil fields of p.
func (p ConfigurationParameter) fieldsSet() int {
	n := 0
	for _, set := range []bool{
		p.MaxQueueSize != nil,
		p.MaxBatchSize != nil,
		p.MinCyclesThreshold != nil,
		p.MaxMemoryUsageBytes != nil,
		p.MaxBatchProcessingTimeNs != nil,
		p.HealthCheckIntervalMs != nil,
		p.MetricsCollectionEnabled != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

func (w *worker) updateConfiguration(p ConfigurationParameter) bool {
	if p.fieldsSet() != 1 {
		w.log.Warn("configuration update rejected", "reason", "exactly one parameter must be set")
		return false
	}

	next := w.cfg
	ok := true
	switch {
	case p.MaxQueueSize != nil:
		ok = between(*p.MaxQueueSize, minQueueSize, maxQueueSize)
		next.MaxQueueSize = *p.MaxQueueSize
	case p.MaxBatchSize != nil:
		ok = between(*p.MaxBatchSize, minBatchSize, maxBatchSize)
		next.MaxBatchSize = *p.MaxBatchSize
	case p.MinCyclesThreshold != nil:
		ok = *p.MinCyclesThreshold >= minCyclesThreshold
		next.MinCyclesThreshold = *p.MinCyclesThreshold
	case p.MaxMemoryUsageBytes != nil:
		ok = between(*p.MaxMemoryUsageBytes, minMemoryUsageBytes, maxMemoryUsageBytes)
		next.MaxMemoryUsageBytes = *p.MaxMemoryUsageBytes
	case p.MaxBatchProcessingTimeNs != nil:
		d := time.Duration(*p.MaxBatchProcessingTimeNs)
		ok = between(d, minBatchTime, maxBatchTime)
		next.MaxBatchProcessingTime = d
	case p.HealthCheckIntervalMs != nil:
		d := time.Duration(*p.HealthCheckIntervalMs) * time.Millisecond
		ok = between(d, minHealthInterval, maxHealthInterval)
		next.HealthCheckInterval = d
	case p.MetricsCollectionEnabled != nil:
		next.MetricsCollectionEnabled = *p.MetricsCollectionEnabled
	}

	if !ok {
		w.log.Warn("configuration update rejected", "reason", "value out of range", "parameter", p)
		return false
	}
	w.cfg = next
	w.log.Info("configuration updated", "configuration", next)
	return true
}

func (w *worker) configureBatchSafety(s BatchSafetySettings) {
	if s.MaxBatchSize != nil {
		w.cfg.MaxBatchSize = min(max(*s.MaxBatchSize, minBatchSize), safetyMaxBatchSize)
	}
	if s.MinCyclesThreshold != nil {
		w.cfg.MinCyclesThreshold = max(*s.MinCyclesThreshold, minCyclesThreshold)
	}
	if s.MaxMemoryUsageBytes != nil {
		w.cfg.MaxMemoryUsageBytes = min(max(*s.MaxMemoryUsageBytes, minMemoryUsageBytes), safetyMaxMemoryBytes)
	}
	if s.MaxBatchProcessingTimeNs != nil {
		d := time.Duration(*s.MaxBatchProcessingTimeNs)
		w.cfg.MaxBatchProcessingTime = min(max(d, minBatchTime), safetyMaxBatchTime)
	}
	w.log.Info("batch safety configured", "limits", w.safetyLimits())
}
