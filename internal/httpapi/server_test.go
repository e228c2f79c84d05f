package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/opqueue/internal/clock"
	"github.com/rzpsarthak13/opqueue/internal/core"
	"github.com/rzpsarthak13/opqueue/internal/logging"
	"github.com/rzpsarthak13/opqueue/internal/metrics"
	"github.com/rzpsarthak13/opqueue/internal/queue"
	"github.com/rzpsarthak13/opqueue/internal/resource"
)

type fixture struct {
	engine *queue.Engine
	meter  *resource.Static
	srv    *httptest.Server
}

func newFixture(t *testing.T, exec core.Executor, mutate ...func(*queue.Options)) *fixture {
	t.Helper()
	if exec == nil {
		exec = core.ExecutorFunc(func(_ context.Context, kind core.OperationKind) (core.OperationResult, error) {
			switch kind.(type) {
			case core.GetOp:
				v := "cached"
				return core.GetResult{Value: &v}, nil
			case core.DeleteOp:
				return core.DeleteResult{Ok: true}, nil
			default:
				return core.SetResult{Ok: true}, nil
			}
		})
	}

	reg := prometheus.NewRegistry()
	meter := resource.NewStatic(1e12, 1000)
	opts := queue.Options{
		Executor: exec,
		Clock:    clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
		Meter:    meter,
		Logger:   logging.Discard(),
		Observer: metrics.New(reg),
	}
	for _, m := range mutate {
		m(&opts)
	}
	e, err := queue.New(opts)
	require.NoError(t, err)

	srv := httptest.NewServer(NewRouter(e, Options{Gatherer: reg, Logger: logging.Discard()}))
	t.Cleanup(func() {
		srv.Close()
		_ = e.Close()
	})
	return &fixture{engine: e, meter: meter, srv: srv}
}

func (f *fixture) do(t *testing.T, method, path, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestSubmitProcessAndGetStatus(t *testing.T) {
	f := newFixture(t, nil)

	var sub SubmitResponse
	code := f.do(t, http.MethodPost, "/operations", `{"type":"set","key":"user:1","value":"alice"}`, &sub)
	require.Equal(t, http.StatusAccepted, code)
	require.NotEmpty(t, sub.ID)

	var op map[string]any
	code = f.do(t, http.MethodGet, "/operations/"+sub.ID, "", &op)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Queued", op["status"])
	assert.Equal(t, "Set", op["kind"].(map[string]any)["type"])

	var result queue.BatchResult
	code = f.do(t, http.MethodPost, "/queue/process?batch_size=10", "", &result)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{sub.ID}, result.SuccessfulOperations)

	code = f.do(t, http.MethodGet, "/operations/"+sub.ID, "", &op)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Completed", op["status"])
	assert.Equal(t, "Set", op["resultType"])
}

func TestSubmitBeyondCapacityAccepted(t *testing.T) {
	f := newFixture(t, nil)
	ok, err := f.engine.UpdateConfiguration(context.Background(), queue.ConfigurationParameter{MaxQueueSize: ptr(1)})
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/operations", `{"type":"get","key":"a"}`, nil))
	assert.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/operations", `{"type":"get","key":"b"}`, nil))
}

func TestProcessBatchSizeParameter(t *testing.T) {
	f := newFixture(t, nil)
	for _, key := range []string{"a", "b", "c"} {
		_, err := f.engine.Submit(context.Background(), core.GetOp{Key: key})
		require.NoError(t, err)
	}

	var result queue.BatchResult
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/queue/process?batch_size=0", "", &result))
	assert.Empty(t, result.ProcessedOperationIDs)
	assert.Equal(t, 3, result.QueueStateAfterProcessing.RemainingQueueDepth)

	result = queue.BatchResult{}
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/queue/process?batch_size=1", "", &result))
	assert.Len(t, result.ProcessedOperationIDs, 1)

	// Without the parameter the configured maximum applies.
	result = queue.BatchResult{}
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/queue/process", "", &result))
	assert.Len(t, result.ProcessedOperationIDs, 2)
	assert.Zero(t, result.QueueStateAfterProcessing.RemainingQueueDepth)

	var apiErr APIError
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/queue/process?batch_size=-1", "", &apiErr))
}

func TestSubmitErrors(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name string
		body string
		code int
		want string
	}{
		{"malformed json", `{`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"missing type", `{"key":"k"}`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"unknown type", `{"type":"upsert","key":"k"}`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"empty key", `{"type":"get","key":""}`, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"value too long", `{"type":"set","key":"k","value":"` + strings.Repeat("x", 1025) + `"}`, http.StatusBadRequest, "VALIDATION_FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var apiErr APIError
			code := f.do(t, http.MethodPost, "/operations", tt.body, &apiErr)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.want, apiErr.ErrorCode)
			assert.NotEmpty(t, apiErr.RequestID)
		})
	}
}

func TestGetStatusNotFound(t *testing.T) {
	f := newFixture(t, nil)
	var apiErr APIError
	code := f.do(t, http.MethodGet, "/operations/missing", "", &apiErr)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", apiErr.ErrorCode)
}

func TestStatuses(t *testing.T) {
	f := newFixture(t, nil)
	id, err := f.engine.Submit(context.Background(), core.GetOp{Key: "k"})
	require.NoError(t, err)

	var ops []*map[string]any
	code := f.do(t, http.MethodPost, "/operations/statuses", `{"ids":["`+id+`","missing"]}`, &ops)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, ops, 2)
	require.NotNil(t, ops[0])
	assert.Equal(t, id, (*ops[0])["id"])
	assert.Nil(t, ops[1])
}

func TestQueueFullIsTooManyRequests(t *testing.T) {
	f := newFixture(t, nil, func(o *queue.Options) {
		o.Config = queue.DefaultConfiguration()
		o.Config.RejectWhenFull = true
	})
	ok, err := f.engine.UpdateConfiguration(context.Background(), queue.ConfigurationParameter{MaxQueueSize: ptr(1)})
	require.NoError(t, err)
	require.True(t, ok)

	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/operations", `{"type":"get","key":"a"}`, nil))
	var apiErr APIError
	assert.Equal(t, http.StatusTooManyRequests, f.do(t, http.MethodPost, "/operations", `{"type":"get","key":"b"}`, &apiErr))
	assert.Equal(t, "QUEUE_FULL", apiErr.ErrorCode)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)

	var report map[string]any
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", "", &report))
	assert.Equal(t, "Healthy", report["status"])

	f.meter.SetCycles(10)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodGet, "/health", "", &report))
	assert.Equal(t, "Critical", report["status"])
}

func TestConfiguration(t *testing.T) {
	f := newFixture(t, nil)

	var cfg map[string]any
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/configuration", "", &cfg))
	assert.Equal(t, 50.0, cfg["maxBatchSize"])

	var upd ConfigurationUpdateResponse
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPatch, "/configuration", `{"maxBatchSize":20}`, &upd))
	assert.True(t, upd.Updated)
	assert.Equal(t, 20, upd.Configuration.MaxBatchSize)

	var rejected map[string]any
	assert.Equal(t, http.StatusUnprocessableEntity, f.do(t, http.MethodPatch, "/configuration", `{"maxBatchSize":5000}`, &rejected))
	assert.Equal(t, false, rejected["updated"])

	var safety map[string]any
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPatch, "/configuration/batch-safety", `{"maxBatchSize":100000}`, &safety))
	assert.Equal(t, 100.0, safety["maxBatchSize"])
}

func TestMaintenance(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.engine.Submit(ctx, core.SetOp{Key: "k", Value: "v"})
	require.NoError(t, err)
	_, err = f.engine.ProcessBatch(ctx, 10)
	require.NoError(t, err)

	var res map[string]any
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/maintenance", `{"operation":"PurgeCompleted"}`, &res))
	assert.Equal(t, true, res["success"])
	assert.Equal(t, 1.0, res["itemsAffected"])

	var apiErr APIError
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/maintenance", `{}`, &apiErr))
}

func TestErrorAndStatisticsViews(t *testing.T) {
	f := newFixture(t, core.ExecutorFunc(func(context.Context, core.OperationKind) (core.OperationResult, error) {
		return nil, errors.New("connection refused")
	}))
	ctx := context.Background()
	_, err := f.engine.Submit(ctx, core.SetOp{Key: "k", Value: "v"})
	require.NoError(t, err)
	_, err = f.engine.ProcessBatch(ctx, 10)
	require.NoError(t, err)

	var logs []map[string]any
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/errors", "", &logs))
	require.Len(t, logs, 1)
	assert.Equal(t, "NetworkError", logs[0]["category"])

	for _, path := range []string{
		"/errors/statistics", "/errors/analysis",
		"/statistics", "/statistics/history?limit=5", "/statistics/rolling", "/statistics/types",
		"/statistics/utilization", "/statistics/trends", "/statistics/executor", "/statistics/batches",
		"/queue/statistics", "/queue/state", "/queue/processing", "/queue/metrics",
	} {
		t.Run(path, func(t *testing.T) {
			var body any
			assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, path, "", &body))
		})
	}

	var history []map[string]any
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/statistics/history", "", &history))
	assert.Len(t, history, 1)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/statistics", "", nil))
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/statistics/history", "", &history))
	assert.Empty(t, history)

	var apiErr APIError
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/statistics/history?limit=-1", "", &apiErr))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.engine.Submit(context.Background(), core.GetOp{Key: "k"})
	require.NoError(t, err)

	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	buf := new(strings.Builder)
	_, err = io.Copy(buf, resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "opqueue_queue_depth 1")
}

func TestClosedEngineIsUnavailable(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.engine.Close())

	var apiErr APIError
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodGet, "/queue/statistics", "", &apiErr))
	assert.Equal(t, "UNAVAILABLE", apiErr.ErrorCode)
}

func ptr[T any](v T) *T { return &v }
