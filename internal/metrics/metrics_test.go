package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/opqueue/internal/clock"
	"github.com/rzpsarthak13/opqueue/internal/core"
	"github.com/rzpsarthak13/opqueue/internal/errorlog"
	"github.com/rzpsarthak13/opqueue/internal/health"
	"github.com/rzpsarthak13/opqueue/internal/logging"
	"github.com/rzpsarthak13/opqueue/internal/queue"
	"github.com/rzpsarthak13/opqueue/internal/resource"
)

func TestCollectorsRegisterOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}

func TestObserveBatch(t *testing.T) {
	c := New(prometheus.NewRegistry())

	c.ObserveBatch(queue.BatchResult{
		OperationStatuses: map[string]core.Status{
			"a": core.StatusCompleted,
			"b": core.StatusRetrying,
			"c": core.StatusFailed,
			"d": core.StatusCompleted,
		},
		OperationTypes: map[string]core.OperationType{
			"a": core.OperationSet,
			"b": core.OperationSet,
			"c": core.OperationGet,
			"d": core.OperationDelete,
		},
		ProcessingStatistics:   queue.ProcessingStatistics{ProcessingDuration: 250 * time.Millisecond},
		BatchTerminatedEarly:   true,
		EarlyTerminationReason: queue.ReasonTimeLimit,
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.BatchesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.OperationsTotal.WithLabelValues("Set", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.OperationsTotal.WithLabelValues("Set", OutcomeRetry)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.OperationsTotal.WithLabelValues("Get", OutcomeFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.OperationsTotal.WithLabelValues("Delete", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.EarlyTerminationsTotal.WithLabelValues(queue.ReasonTimeLimit)))
	assert.Equal(t, 1, testutil.CollectAndCount(c.BatchDuration))
}

func TestGauges(t *testing.T) {
	c := New(prometheus.NewRegistry())

	c.ObserveQueueDepth(12)
	assert.Equal(t, 12.0, testutil.ToFloat64(c.QueueDepth))

	c.ObserveHealth(health.StatusDegraded)
	assert.Equal(t, 2.0, testutil.ToFloat64(c.HealthStatus))

	c.ObserveError(errorlog.CategoryTimeout, errorlog.SeverityMedium)
	c.ObserveError(errorlog.CategoryTimeout, errorlog.SeverityMedium)
	assert.Equal(t, 2.0, testutil.ToFloat64(c.ErrorsTotal.WithLabelValues("TimeoutError", "Medium")))
}

func TestEngineFeedsCollectors(t *testing.T) {
	ctx := context.Background()
	c := New(prometheus.NewRegistry())

	exec := core.ExecutorFunc(func(_ context.Context, kind core.OperationKind) (core.OperationResult, error) {
		if kind.TargetKey() == "bad" {
			return nil, errors.New("connection refused")
		}
		return core.SetResult{Ok: true}, nil
	})
	e, err := queue.New(queue.Options{
		Executor: exec,
		Clock:    clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
		Meter:    resource.NewStatic(1e12, 1000),
		Logger:   logging.Discard(),
		Observer: c,
	})
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Submit(ctx, core.SetOp{Key: "good", Value: "v"})
	require.NoError(t, err)
	_, err = e.Submit(ctx, core.SetOp{Key: "bad", Value: "v"})
	require.NoError(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(c.QueueDepth))

	_, err = e.ProcessBatch(ctx, 10)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.BatchesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.OperationsTotal.WithLabelValues("Set", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.OperationsTotal.WithLabelValues("Set", OutcomeRetry)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.QueueDepth))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ErrorsTotal.WithLabelValues("NetworkError", "Medium")))
}
