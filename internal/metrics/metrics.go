// Package metrics exports queue events as Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rzpsarthak13/opqueue/internal/core"
	"github.com/rzpsarthak13/opqueue/internal/errorlog"
	"github.com/rzpsarthak13/opqueue/internal/health"
	"github.com/rzpsarthak13/opqueue/internal/queue"
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeRetry   = "retry"
	OutcomeFailure = "failure"
)

// Collectors implements queue.Observer.
type Collectors struct {
	// BatchesTotal counts batches that executed at least one operation
	BatchesTotal prometheus.Counter

	// OperationsTotal counts executed operations by type and outcome
	OperationsTotal *prometheus.CounterVec

	// BatchDuration tracks batch wall time
	BatchDuration prometheus.Histogram

	// EarlyTerminationsTotal counts batches stopped by a safety gate
	EarlyTerminationsTotal *prometheus.CounterVec

	// QueueDepth is the number of queued and retrying operations
	QueueDepth prometheus.Gauge

	// HealthStatus is 0 healthy, 1 warning, 2 degraded, 3 critical
	HealthStatus prometheus.Gauge

	// ErrorsTotal counts error log records
	ErrorsTotal *prometheus.CounterVec
}

var _ queue.Observer = (*Collectors)(nil)

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Collectors {
	f := promauto.With(reg)
	return &Collectors{
		BatchesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "opqueue_batches_total",
			Help: "Total number of processed batches",
		}),
		OperationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "opqueue_operations_total",
			Help: "Total number of executed operations",
		}, []string{"type", "outcome"}),
		BatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "opqueue_batch_duration_seconds",
			Help:    "Batch processing duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		EarlyTerminationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "opqueue_early_terminations_total",
			Help: "Total number of batches terminated by a safety limit",
		}, []string{"reason"}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "opqueue_queue_depth",
			Help: "Number of operations waiting to be processed",
		}),
		HealthStatus: f.NewGauge(prometheus.GaugeOpts{
			Name: "opqueue_health_status",
			Help: "Last health check status (0 healthy, 1 warning, 2 degraded, 3 critical)",
		}),
		ErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "opqueue_errors_total",
			Help: "Total number of logged errors",
		}, []string{"category", "severity"}),
	}
}

// ObserveBatch records a batch that executed at least one operation.
func (c *Collectors) ObserveBatch(result queue.BatchResult) {
	c.BatchesTotal.Inc()
	c.BatchDuration.Observe(result.ProcessingStatistics.ProcessingDuration.Seconds())
	for id, status := range result.OperationStatuses {
		c.OperationsTotal.WithLabelValues(string(result.OperationTypes[id]), outcome(status)).Inc()
	}
	if result.BatchTerminatedEarly {
		c.EarlyTerminationsTotal.WithLabelValues(result.EarlyTerminationReason).Inc()
	}
}

func outcome(s core.Status) string {
	switch s {
	case core.StatusCompleted:
		return OutcomeSuccess
	case core.StatusRetrying:
		return OutcomeRetry
	default:
		return OutcomeFailure
	}
}

func (c *Collectors) ObserveQueueDepth(depth int) {
	c.QueueDepth.Set(float64(depth))
}

func (c *Collectors) ObserveHealth(status health.Status) {
	c.HealthStatus.Set(status.Level())
}

func (c *Collectors) ObserveError(category errorlog.Category, severity errorlog.Severity) {
	c.ErrorsTotal.WithLabelValues(string(category), string(severity)).Inc()
}
