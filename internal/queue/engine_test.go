package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/opqueue/internal/clock"
	"github.com/rzpsarthak13/opqueue/internal/core"
	"github.com/rzpsarthak13/opqueue/internal/errorlog"
	"github.com/rzpsarthak13/opqueue/internal/health"
	"github.com/rzpsarthak13/opqueue/internal/logging"
	"github.com/rzpsarthak13/opqueue/internal/resource"
	"github.com/rzpsarthak13/opqueue/internal/store"
	"github.com/rzpsarthak13/opqueue/internal/validate"
)

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// scriptedExecutor answers with the next step for each key, or succeeds when
// the script for that key is exhausted.
type scriptedExecutor struct {
	mu     sync.Mutex
	steps  map[string][]func() (core.OperationResult, error)
	calls  []string
	before func()
}

func newScriptedExecutor() *scriptedExecutor {
	return &scriptedExecutor{steps: make(map[string][]func() (core.OperationResult, error))}
}

func (s *scriptedExecutor) script(key string, steps ...func() (core.OperationResult, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps[key] = append(s.steps[key], steps...)
}

func (s *scriptedExecutor) Execute(_ context.Context, kind core.OperationKind) (core.OperationResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, kind.TargetKey())
	before := s.before
	var step func() (core.OperationResult, error)
	if queue := s.steps[kind.TargetKey()]; len(queue) > 0 {
		step, s.steps[kind.TargetKey()] = queue[0], queue[1:]
	}
	s.mu.Unlock()

	if before != nil {
		before()
	}
	if step != nil {
		return step()
	}
	return okResult(kind), nil
}

func (s *scriptedExecutor) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func okResult(kind core.OperationKind) core.OperationResult {
	switch kind.(type) {
	case core.SetOp:
		return core.SetResult{Ok: true}
	case core.DeleteOp:
		return core.DeleteResult{Ok: true}
	default:
		v := "v"
		return core.GetResult{Value: &v}
	}
}

func fail(msg string) func() (core.OperationResult, error) {
	return func() (core.OperationResult, error) { return nil, errors.New(msg) }
}

type fixture struct {
	engine *Engine
	exec   *scriptedExecutor
	clock  *clock.Fake
	meter  *resource.Static
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		exec:  newScriptedExecutor(),
		clock: clock.NewFake(epoch),
		meter: resource.NewStatic(1_000_000_000_000, 1_000),
	}
	opts := Options{
		Config:   DefaultConfiguration(),
		Executor: f.exec,
		Clock:    f.clock,
		Meter:    f.meter,
		Logger:   logging.Discard(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	e, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	f.engine = e
	return f
}

func (f *fixture) submit(t *testing.T, kind core.OperationKind) string {
	t.Helper()
	id, err := f.engine.Submit(context.Background(), kind)
	require.NoError(t, err)
	return id
}

func (f *fixture) status(t *testing.T, id string) core.Operation {
	t.Helper()
	op, ok, err := f.engine.GetStatus(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok, "operation %s not found", id)
	return op
}

func (f *fixture) process(t *testing.T, n int) BatchResult {
	t.Helper()
	res, err := f.engine.ProcessBatch(context.Background(), n)
	require.NoError(t, err)
	return res
}

func TestNewRequiresExecutor(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, ErrNoExecutor)
}

func TestSubmitAndComplete(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	id := f.submit(t, core.SetOp{Key: "user:1", Value: "alice"})
	op := f.status(t, id)
	assert.Equal(t, core.StatusQueued, op.Status)
	assert.Equal(t, epoch, op.QueuedAt)
	assert.Nil(t, op.CompletedAt)

	res := f.process(t, 10)
	assert.Equal(t, []string{id}, res.ProcessedOperationIDs)
	assert.Equal(t, []string{id}, res.SuccessfulOperations)
	assert.Empty(t, res.FailedOperations)
	assert.Equal(t, core.StatusCompleted, res.OperationStatuses[id])
	assert.Equal(t, int64(DefaultCyclesPerOperation), res.CyclesConsumed)
	assert.False(t, res.BatchTerminatedEarly)
	assert.Equal(t, 0, res.QueueStateAfterProcessing.RemainingQueueDepth)
	assert.False(t, res.QueueStateAfterProcessing.NextBatchAvailable)
	assert.Equal(t, 1, res.ProcessingStatistics.SuccessCount)

	op = f.status(t, id)
	assert.Equal(t, core.StatusCompleted, op.Status)
	assert.Equal(t, core.SetResult{Ok: true}, op.Result)
	require.NotNil(t, op.CompletedAt)
	require.NotNil(t, op.ProcessingStartedAt)

	calls, err := f.engine.GetExecutorCallStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, calls.TotalCalls)
	assert.Equal(t, 1, calls.SuccessfulCalls)
	assert.InDelta(t, 100.0, calls.SuccessRate, 0.001)
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		kind core.OperationKind
	}{
		{"empty key", core.SetOp{Key: "", Value: "v"}},
		{"empty value", core.SetOp{Key: "k", Value: ""}},
		{"long key", core.GetOp{Key: string(make([]byte, validate.MaxKeyLength+1))}},
		{"nil kind", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Submit(ctx, tt.kind)
			assert.ErrorIs(t, err, validate.ErrValidation)
		})
	}

	logs, err := f.engine.GetErrorLogs(ctx)
	require.NoError(t, err)
	require.Len(t, logs, len(tests))
	for _, rec := range logs {
		assert.Equal(t, errorlog.CategoryValidation, rec.Category)
		assert.False(t, rec.Recoverable)
	}

	st, err := f.engine.GetQueueStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.CurrentQueueDepth)
}

func TestSubmitBeyondCapacityByDefault(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Config.MaxQueueSize = 2 })
	for i := 0; i < 3; i++ {
		f.submit(t, core.SetOp{Key: fmt.Sprintf("k%d", i), Value: "v"})
	}

	st, err := f.engine.GetQueueStatistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, st.CurrentQueueDepth)

	report, err := f.engine.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, health.StatusCritical, report.Status)
}

func TestSubmitQueueFull(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Config.MaxQueueSize = 2
		o.Config.RejectWhenFull = true
	})

	f.submit(t, core.SetOp{Key: "a", Value: "1"})
	f.submit(t, core.SetOp{Key: "b", Value: "2"})
	_, err := f.engine.Submit(context.Background(), core.SetOp{Key: "c", Value: "3"})
	assert.ErrorIs(t, err, ErrQueueFull)

	f.process(t, 1)
	_, err = f.engine.Submit(context.Background(), core.SetOp{Key: "c", Value: "3"})
	assert.NoError(t, err)
}

func TestProcessBatchFIFO(t *testing.T) {
	f := newFixture(t, nil)
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, f.submit(t, core.GetOp{Key: fmt.Sprintf("k%d", i)}))
	}

	res := f.process(t, 3)
	assert.Equal(t, ids[:3], res.ProcessedOperationIDs)
	assert.Equal(t, 2, res.QueueStateAfterProcessing.RemainingQueueDepth)
	assert.True(t, res.QueueStateAfterProcessing.NextBatchAvailable)

	res = f.process(t, 10)
	assert.Equal(t, ids[3:], res.ProcessedOperationIDs)
	assert.Equal(t, []string{"k0", "k1", "k2", "k3", "k4"}, f.exec.keys())

	st, err := f.engine.GetQueueStatistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, st.TotalOperationsCompleted)
	assert.Equal(t, uint64(6), st.NextQueuePosition)
}

func TestProcessBatchSizeLimits(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Config.MaxBatchSize = 2 })
	for i := 0; i < 4; i++ {
		f.submit(t, core.DeleteOp{Key: fmt.Sprintf("k%d", i)})
	}

	t.Run("zero size", func(t *testing.T) {
		res := f.process(t, 0)
		assert.Empty(t, res.ProcessedOperationIDs)
		assert.Equal(t, 4, res.QueueStateAfterProcessing.RemainingQueueDepth)
		assert.Empty(t, f.exec.keys())
	})

	t.Run("capped at max batch size", func(t *testing.T) {
		res := f.process(t, 100)
		assert.Len(t, res.ProcessedOperationIDs, 2)
	})
}

func TestProcessBatchEmptyQueue(t *testing.T) {
	f := newFixture(t, nil)
	res := f.process(t, 10)
	assert.Empty(t, res.ProcessedOperationIDs)
	assert.False(t, res.QueueStateAfterProcessing.NextBatchAvailable)

	bs, err := f.engine.GetBatchProcessingStatistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, bs.TotalBatchesProcessed)
}

func TestRetryThenPermanentFailure(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.exec.script("flaky",
		fail("connection refused"),
		fail("connection refused"),
		fail("connection refused"),
		fail("connection refused"),
	)
	id := f.submit(t, core.SetOp{Key: "flaky", Value: "v"})

	delays := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	for attempt, delay := range delays {
		res := f.process(t, 10)
		require.Equal(t, []string{id}, res.ProcessedOperationIDs)
		assert.Empty(t, res.FailedOperations, "a retrying operation has not failed yet")
		assert.Zero(t, res.ProcessingStatistics.FailureCount)
		assert.Equal(t, 1, res.ProcessingStatistics.RetryCount)
		assert.Equal(t, core.StatusRetrying, res.OperationStatuses[id])
		assert.Equal(t, fmt.Sprintf("Scheduled for retry (attempt %d/3)", attempt+1), res.Errors[id])

		op := f.status(t, id)
		assert.Equal(t, core.StatusRetrying, op.Status)
		assert.Equal(t, attempt+1, op.RetryCount)
		assert.Equal(t, fmt.Sprintf("Retry attempt %d/3 scheduled", attempt+1), op.ErrorMessage)

		// Not eligible before the backoff elapses.
		f.clock.Advance(delay - time.Millisecond)
		assert.Empty(t, f.process(t, 10).ProcessedOperationIDs)
		f.clock.Advance(time.Millisecond)
	}

	res := f.process(t, 10)
	assert.Equal(t, core.StatusFailed, res.OperationStatuses[id])
	assert.Equal(t, []string{id}, res.FailedOperations)
	assert.Equal(t, len(res.FailedOperations), res.ProcessingStatistics.FailureCount)

	op := f.status(t, id)
	assert.Equal(t, core.StatusFailed, op.Status)
	assert.Equal(t, 3, op.RetryCount)
	assert.Contains(t, op.ErrorMessage, "Permanently failed after 3 retry attempts")
	assert.Contains(t, op.ErrorMessage, "connection refused")
	require.NotNil(t, op.CompletedAt)

	logs, err := f.engine.GetErrorLogs(ctx)
	require.NoError(t, err)
	require.Len(t, logs, 5)
	assert.Equal(t, errorlog.SeverityCritical, logs[0].Severity)
	assert.True(t, logs[0].Context.FinalFailure)
	assert.Equal(t, errorlog.CategoryNetwork, logs[len(logs)-1].Category)
	require.NotNil(t, logs[len(logs)-1].Context.RetryDelay)
	assert.Equal(t, 2*time.Second, *logs[len(logs)-1].Context.RetryDelay)

	calls, err := f.engine.GetExecutorCallStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, calls.FailedCalls)
	assert.Equal(t, 3, calls.TotalRetryAttempts)

	analysis, err := f.engine.GetDetailedErrorAnalysis(ctx)
	require.NoError(t, err)
	assert.Zero(t, analysis.RecoverySuccessRate)
}

func TestRetryRecovers(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.exec.script("k", fail("request timed out"))
	id := f.submit(t, core.GetOp{Key: "k"})

	f.process(t, 10)
	f.clock.Advance(2 * time.Second)
	res := f.process(t, 10)
	assert.Equal(t, []string{id}, res.SuccessfulOperations)

	op := f.status(t, id)
	assert.Equal(t, core.StatusCompleted, op.Status)
	assert.Equal(t, 1, op.RetryCount)

	analysis, err := f.engine.GetDetailedErrorAnalysis(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, analysis.RecoverySuccessRate, 0.001)
}

func TestRetryKeepsFIFOPosition(t *testing.T) {
	f := newFixture(t, nil)
	f.exec.script("first", fail("service unavailable"))
	first := f.submit(t, core.GetOp{Key: "first"})

	f.process(t, 10)
	second := f.submit(t, core.GetOp{Key: "second"})
	f.clock.Advance(2 * time.Second)

	res := f.process(t, 10)
	assert.Equal(t, []string{first, second}, res.ProcessedOperationIDs)
}

func TestWakeTimerPromotesRetries(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.exec.script("k", fail("network down"))
	id := f.submit(t, core.GetOp{Key: "k"})
	f.process(t, 10)

	st, err := f.engine.GetQueueStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.PendingRetries)
	assert.Equal(t, 1, st.CurrentlyRetrying)
	assert.Equal(t, 1, f.clock.Pending())

	f.clock.Advance(2 * time.Second)
	require.Eventually(t, func() bool {
		st, err := f.engine.GetQueueStatistics(ctx)
		return err == nil && st.PendingRetries == 0
	}, time.Second, 5*time.Millisecond)

	ready, err := call(ctx, f.engine, func(w *worker) bool {
		op, _ := w.store.Get(id)
		return op.RetryReady && w.store.HasEligible()
	})
	require.NoError(t, err)
	assert.True(t, ready, "the wake-up releases the retry to the store")
}

func TestCancelledRetryIsNeverEligible(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.exec.script("k", fail("network down"))
	id := f.submit(t, core.GetOp{Key: "k"})
	f.process(t, 10)

	_, err := call(ctx, f.engine, func(w *worker) bool { return w.sched.Cancel(id) })
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	res := f.process(t, 10)
	assert.Empty(t, res.ProcessedOperationIDs)
	assert.False(t, res.QueueStateAfterProcessing.NextBatchAvailable)
	assert.Equal(t, core.StatusRetrying, f.status(t, id).Status)
}

func TestOperationThatCannotStartIsNotCounted(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.submit(t, core.GetOp{Key: "k"})

	type attempt struct {
		ran    bool
		result BatchResult
	}
	got, err := call(ctx, f.engine, func(w *worker) attempt {
		op, _ := w.store.Get(id)
		// Another path moved the record on after it was selected.
		_ = w.store.Transition(id, core.StatusProcessing, store.Update{At: w.clock.Now()})
		result := newBatchResult()
		_, ran := w.executeOne(ctx, op, 1, &result)
		return attempt{ran: ran, result: result}
	})
	require.NoError(t, err)
	assert.False(t, got.ran)
	assert.Empty(t, got.result.ProcessedOperationIDs)
	assert.Zero(t, got.result.CyclesConsumed)
	assert.Empty(t, f.exec.keys())
}

func TestNonRecoverableFailsImmediately(t *testing.T) {
	f := newFixture(t, nil)
	f.exec.script("k", func() (core.OperationResult, error) { return nil, nil })
	id := f.submit(t, core.GetOp{Key: "k"})

	res := f.process(t, 10)
	assert.Equal(t, core.StatusFailed, res.OperationStatuses[id])

	op := f.status(t, id)
	assert.Equal(t, core.StatusFailed, op.Status)
	assert.Equal(t, 0, op.RetryCount)
	assert.Contains(t, op.ErrorMessage, "InvalidResponse is not recoverable")
}

func TestMismatchedResultIsInvalid(t *testing.T) {
	f := newFixture(t, nil)
	f.exec.script("k", func() (core.OperationResult, error) { return core.DeleteResult{Ok: true}, nil })
	id := f.submit(t, core.SetOp{Key: "k", Value: "v"})

	f.process(t, 10)
	op := f.status(t, id)
	assert.Equal(t, core.StatusFailed, op.Status)
	assert.Contains(t, op.ErrorMessage, "invalid response")
}

func TestExecutorPanicIsRetried(t *testing.T) {
	f := newFixture(t, nil)
	f.exec.script("k", func() (core.OperationResult, error) { panic("boom") })
	id := f.submit(t, core.GetOp{Key: "k"})

	res := f.process(t, 10)
	assert.Equal(t, core.StatusRetrying, res.OperationStatuses[id])

	logs, err := f.engine.GetErrorLogs(context.Background())
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, errorlog.CategoryUnknown, logs[0].Category)
	assert.Contains(t, logs[0].Message, "executor panic: boom")
}

func TestEarlyTermination(t *testing.T) {
	t.Run("time limit", func(t *testing.T) {
		f := newFixture(t, func(o *Options) { o.Config.MaxBatchProcessingTime = time.Second })
		f.exec.before = func() { f.clock.Advance(2 * time.Second) }
		var ids []string
		for i := 0; i < 5; i++ {
			ids = append(ids, f.submit(t, core.GetOp{Key: fmt.Sprintf("k%d", i)}))
		}

		res := f.process(t, 10)
		assert.True(t, res.BatchTerminatedEarly)
		assert.Equal(t, ReasonTimeLimit, res.EarlyTerminationReason)
		assert.Equal(t, []string{ids[0]}, res.ProcessedOperationIDs)
		for _, id := range ids[1:] {
			assert.Equal(t, core.StatusQueued, f.status(t, id).Status)
		}
		assert.Equal(t, 4, res.QueueStateAfterProcessing.RemainingQueueDepth)
	})

	t.Run("cycles", func(t *testing.T) {
		f := newFixture(t, nil)
		f.meter.SetCycles(10)
		f.submit(t, core.GetOp{Key: "k"})

		res := f.process(t, 10)
		assert.True(t, res.BatchTerminatedEarly)
		assert.Equal(t, ReasonCycles, res.EarlyTerminationReason)
		assert.Empty(t, res.ProcessedOperationIDs)
	})

	t.Run("memory", func(t *testing.T) {
		f := newFixture(t, nil)
		f.meter.SetMemory(2_000_000_000)
		f.submit(t, core.GetOp{Key: "k"})

		res := f.process(t, 10)
		assert.Equal(t, ReasonMemory, res.EarlyTerminationReason)

		bs, err := f.engine.GetBatchProcessingStatistics(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, bs.TotalBatchesProcessed)
		assert.Equal(t, 1, bs.TotalEarlyTerminations)
		assert.InDelta(t, 100.0, bs.EarlyTerminationRate, 0.001)
	})

	t.Run("cancelled", func(t *testing.T) {
		f := newFixture(t, nil)
		ctx, cancel := context.WithCancel(context.Background())
		f.exec.before = cancel
		f.submit(t, core.GetOp{Key: "a"})
		f.submit(t, core.GetOp{Key: "b"})

		res, err := f.engine.ProcessBatch(ctx, 10)
		if err == nil {
			assert.Equal(t, ReasonCancelled, res.EarlyTerminationReason)
			assert.Len(t, res.ProcessedOperationIDs, 1)
		} else {
			assert.ErrorIs(t, err, context.Canceled)
		}
	})
}

type recordingArchive struct {
	mu  sync.Mutex
	ops []core.Operation
}

func (a *recordingArchive) Archive(_ context.Context, ops []core.Operation) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ops = append(a.ops, ops...)
	return nil
}

func TestPerformMaintenance(t *testing.T) {
	archive := &recordingArchive{}
	f := newFixture(t, func(o *Options) { o.Archive = archive })
	ctx := context.Background()

	f.exec.script("bad", fail("malformed payload"))
	f.submit(t, core.SetOp{Key: "a", Value: "1"})
	f.submit(t, core.SetOp{Key: "b", Value: "2"})
	f.submit(t, core.SetOp{Key: "bad", Value: "3"})
	f.process(t, 10)
	pending := f.submit(t, core.GetOp{Key: "pending"})

	res, err := f.engine.PerformMaintenance(ctx, MaintenanceOperation{Kind: MaintenancePurgeCompleted})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.ItemsAffected)
	assert.Equal(t, "Purged 2 completed operations", res.Message)
	assert.Positive(t, res.MemoryFreed)
	assert.Len(t, archive.ops, 2)

	res, err = f.engine.PerformMaintenance(ctx, MaintenanceOperation{Kind: MaintenancePurgeFailed})
	require.NoError(t, err)
	assert.Equal(t, "Purged 1 failed operations", res.Message)

	res, err = f.engine.PerformMaintenance(ctx, MaintenanceOperation{Kind: MaintenanceCompactQueue})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ItemsAffected)
	assert.Equal(t, "Compacted queue with 1 active operations", res.Message)

	// Queued records are never purged.
	f.clock.Advance(48 * time.Hour)
	res, err = f.engine.PerformMaintenance(ctx, PurgeOlderThan(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, res.ItemsAffected)
	assert.Equal(t, core.StatusQueued, f.status(t, pending).Status)

	res, err = f.engine.PerformMaintenance(ctx, MaintenanceOperation{Kind: "Bogus"})
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestPurgeOlderThan(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	old := f.submit(t, core.GetOp{Key: "old"})
	f.process(t, 10)
	f.clock.Advance(2 * time.Hour)
	recent := f.submit(t, core.GetOp{Key: "recent"})
	f.process(t, 10)

	res, err := f.engine.PerformMaintenance(ctx, PurgeOlderThan(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, res.ItemsAffected)
	assert.Equal(t, "Purged 1 operations older than 1h0m0s", res.Message)

	_, ok, err := f.engine.GetStatus(ctx, old)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, core.StatusCompleted, f.status(t, recent).Status)
}

func TestOptimizeMemoryEvictsStaleProcessing(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	stale := f.submit(t, core.GetOp{Key: "stale"})
	queued := f.submit(t, core.GetOp{Key: "queued"})

	terr, err := call(ctx, f.engine, func(w *worker) error {
		return w.store.Transition(stale, core.StatusProcessing, store.Update{At: w.clock.Now()})
	})
	require.NoError(t, err)
	require.NoError(t, terr)

	inflight, err := f.engine.GetCurrentlyProcessing(ctx)
	require.NoError(t, err)
	require.Len(t, inflight, 1)
	assert.Equal(t, stale, inflight[0].ID)

	res, err := f.engine.PerformMaintenance(ctx, MaintenanceOperation{Kind: MaintenanceOptimizeMemory})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ItemsAffected)

	f.clock.Advance(2 * time.Hour)
	res, err = f.engine.PerformMaintenance(ctx, MaintenanceOperation{Kind: MaintenanceOptimizeMemory})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ItemsAffected)
	assert.Equal(t, "Cleaned up 1 stale processing operations", res.Message)
	assert.Equal(t, core.StatusQueued, f.status(t, queued).Status)
}

func TestClearCompletedOperations(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.exec.script("bad", fail("invalid data"))
	f.submit(t, core.GetOp{Key: "good"})
	f.submit(t, core.GetOp{Key: "bad"})
	f.process(t, 10)
	f.submit(t, core.GetOp{Key: "waiting"})

	n, err := f.engine.ClearCompletedOperations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	state, err := f.engine.GetQueueState(ctx)
	require.NoError(t, err)
	require.Len(t, state, 1)
	assert.Equal(t, core.StatusQueued, state[0].Status)
}

func TestResetStatistics(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.submit(t, core.GetOp{Key: "k"})
	f.process(t, 10)
	f.clock.Advance(time.Minute)

	_, err := f.engine.PerformMaintenance(ctx, MaintenanceOperation{Kind: MaintenanceResetStatistics})
	require.NoError(t, err)

	snap, err := f.engine.GetProcessingStatistics(ctx)
	require.NoError(t, err)
	assert.Zero(t, snap.PerformanceMetrics.TotalBatchesProcessed)

	calls, err := f.engine.GetExecutorCallStatistics(ctx)
	require.NoError(t, err)
	assert.Zero(t, calls.TotalCalls)

	m, err := f.engine.GetQueueMetrics(ctx)
	require.NoError(t, err)
	assert.Zero(t, m.Uptime)
}

func TestUpdateConfiguration(t *testing.T) {
	intp := func(v int) *int { return &v }
	i64 := func(v int64) *int64 { return &v }
	boolp := func(v bool) *bool { return &v }

	tests := []struct {
		name  string
		param ConfigurationParameter
		ok    bool
		check func(t *testing.T, c Configuration)
	}{
		{"queue size", ConfigurationParameter{MaxQueueSize: intp(500)}, true,
			func(t *testing.T, c Configuration) { assert.Equal(t, 500, c.MaxQueueSize) }},
		{"queue size too large", ConfigurationParameter{MaxQueueSize: intp(10_001)}, false, nil},
		{"queue size zero", ConfigurationParameter{MaxQueueSize: intp(0)}, false, nil},
		{"batch size", ConfigurationParameter{MaxBatchSize: intp(1000)}, true,
			func(t *testing.T, c Configuration) { assert.Equal(t, 1000, c.MaxBatchSize) }},
		{"batch size too large", ConfigurationParameter{MaxBatchSize: intp(1001)}, false, nil},
		{"cycles", ConfigurationParameter{MinCyclesThreshold: i64(100_000_000)}, true,
			func(t *testing.T, c Configuration) { assert.Equal(t, int64(100_000_000), c.MinCyclesThreshold) }},
		{"cycles too low", ConfigurationParameter{MinCyclesThreshold: i64(99_999_999)}, false, nil},
		{"memory too high", ConfigurationParameter{MaxMemoryUsageBytes: i64(4_000_000_001)}, false, nil},
		{"batch time", ConfigurationParameter{MaxBatchProcessingTimeNs: i64(60e9)}, true,
			func(t *testing.T, c Configuration) { assert.Equal(t, time.Minute, c.MaxBatchProcessingTime) }},
		{"batch time too short", ConfigurationParameter{MaxBatchProcessingTimeNs: i64(999_999_999)}, false, nil},
		{"health interval", ConfigurationParameter{HealthCheckIntervalMs: i64(1000)}, true,
			func(t *testing.T, c Configuration) { assert.Equal(t, time.Second, c.HealthCheckInterval) }},
		{"health interval too long", ConfigurationParameter{HealthCheckIntervalMs: i64(3_600_001)}, false, nil},
		{"metrics", ConfigurationParameter{MetricsCollectionEnabled: boolp(false)}, true,
			func(t *testing.T, c Configuration) { assert.False(t, c.MetricsCollectionEnabled) }},
		{"no field", ConfigurationParameter{}, false, nil},
		{"two fields", ConfigurationParameter{MaxQueueSize: intp(5), MaxBatchSize: intp(5)}, false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			ctx := context.Background()

			ok, err := f.engine.UpdateConfiguration(ctx, tt.param)
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)

			cfg, err := f.engine.GetConfiguration(ctx)
			require.NoError(t, err)
			if tt.ok {
				tt.check(t, cfg)
			} else {
				assert.Equal(t, DefaultConfiguration(), cfg)
			}
		})
	}
}

func TestConfigureBatchSafetyClamps(t *testing.T) {
	f := newFixture(t, nil)
	size, cycles, mem, ns := 500, int64(1), int64(5_000_000_000), int64(1)

	cfg, err := f.engine.ConfigureBatchSafety(context.Background(), BatchSafetySettings{
		MaxBatchSize:             &size,
		MinCyclesThreshold:       &cycles,
		MaxMemoryUsageBytes:      &mem,
		MaxBatchProcessingTimeNs: &ns,
	})
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.MaxBatchSize)
	assert.Equal(t, int64(100_000_000), cfg.MinCyclesThreshold)
	assert.Equal(t, int64(2_000_000_000), cfg.MaxMemoryUsageBytes)
	assert.Equal(t, time.Second, cfg.MaxBatchProcessingTime)
	assert.Equal(t, DefaultConfiguration().MaxQueueSize, cfg.MaxQueueSize)
}

func TestHealthCheck(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Config.MaxQueueSize = 10 })
	ctx := context.Background()

	report, err := f.engine.HealthCheck(ctx)
	require.NoError(t, err)
	assert.Equal(t, health.StatusHealthy, report.Status)
	assert.Equal(t, epoch, report.LastHealthCheck)

	for i := 0; i < 9; i++ {
		f.submit(t, core.GetOp{Key: fmt.Sprintf("k%d", i)})
	}
	report, err = f.engine.HealthCheck(ctx)
	require.NoError(t, err)
	assert.Equal(t, health.StatusWarning, report.Status)
	assert.Equal(t, 9, report.QueueDepth)
	assert.NotEmpty(t, report.Issues)
}

func TestQueueMetrics(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.exec.before = func() { f.clock.Advance(100 * time.Millisecond) }

	f.submit(t, core.GetOp{Key: "a"})
	f.clock.Advance(time.Second)
	f.submit(t, core.GetOp{Key: "b"})
	f.process(t, 10)
	f.clock.Advance(58 * time.Second)

	m, err := f.engine.GetQueueMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, m.TotalOperationsCompleted)
	assert.Equal(t, 0, m.CurrentQueueDepth)
	assert.InDelta(t, 1.0, m.SuccessRate, 0.001)
	assert.Zero(t, m.ErrorRate)
	assert.Equal(t, 2, m.PeakQueueDepth)
	// a waited 1s, b waited 100ms for a to finish.
	assert.Equal(t, 550*time.Millisecond, m.AverageQueueTime)
	assert.Equal(t, 100*time.Millisecond, m.AverageProcessingTime)
	assert.Equal(t, 59*time.Second+200*time.Millisecond, m.Uptime)
}

type countingObserver struct {
	mu      sync.Mutex
	batches int
	depths  []int
	health  []health.Status
	errors  int
}

func (o *countingObserver) ObserveBatch(BatchResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.batches++
}

func (o *countingObserver) ObserveQueueDepth(d int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.depths = append(o.depths, d)
}

func (o *countingObserver) ObserveHealth(s health.Status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.health = append(o.health, s)
}

func (o *countingObserver) ObserveError(errorlog.Category, errorlog.Severity) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errors++
}

func TestObserverRespectsMetricsFlag(t *testing.T) {
	obs := &countingObserver{}
	f := newFixture(t, func(o *Options) { o.Observer = obs })
	ctx := context.Background()

	f.exec.script("bad", fail("timeout"))
	f.submit(t, core.GetOp{Key: "bad"})
	f.process(t, 10)
	_, err := f.engine.HealthCheck(ctx)
	require.NoError(t, err)

	obs.mu.Lock()
	assert.Equal(t, 1, obs.batches)
	assert.Equal(t, 1, obs.errors)
	assert.Equal(t, []health.Status{health.StatusHealthy}, obs.health)
	obs.mu.Unlock()

	off := false
	ok, err := f.engine.UpdateConfiguration(ctx, ConfigurationParameter{MetricsCollectionEnabled: &off})
	require.NoError(t, err)
	require.True(t, ok)

	f.submit(t, core.GetOp{Key: "good"})
	f.process(t, 10)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 1, obs.batches)
}

func TestClosedEngine(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.engine.Close())
	require.NoError(t, f.engine.Close())

	_, err := f.engine.Submit(context.Background(), core.GetOp{Key: "k"})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = f.engine.ProcessBatch(context.Background(), 1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConcurrentSubmit(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make(chan string, 100)
	for i := 0; i < 100; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := f.engine.Submit(ctx, core.SetOp{Key: fmt.Sprintf("k%d", i), Value: "v"})
			assert.NoError(t, err)
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	st, err := f.engine.GetQueueStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100, st.CurrentQueueDepth)
}
