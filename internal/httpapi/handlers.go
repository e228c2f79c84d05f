package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/rzpsarthak13/opqueue/internal/core"
	"github.com/rzpsarthak13/opqueue/internal/health"
	"github.com/rzpsarthak13/opqueue/internal/queue"
)

// SubmitRequest is the body of POST /operations. Type is matched
// case-insensitively.
type SubmitRequest struct {
	core.KindRecord
	kind core.OperationKind
}

// Bind implements render.Binder.
func (s *SubmitRequest) Bind(*http.Request) error {
	if s.Type == "" {
		return errors.New("type is required")
	}
	kind, err := s.KindRecord.Kind()
	if err != nil {
		return err
	}
	s.kind = kind
	return nil
}

// SubmitResponse carries the id of the queued operation.
type SubmitResponse struct {
	ID string `json:"id"`
}

// StatusesRequest is the body of POST /operations/statuses.
type StatusesRequest struct {
	IDs []string `json:"ids"`
}

func (s *StatusesRequest) Bind(*http.Request) error {
	if s.IDs == nil {
		return errors.New("ids is required")
	}
	return nil
}

// MaintenanceRequest is the body of POST /maintenance.
type MaintenanceRequest struct {
	Operation   queue.MaintenanceKind `json:"operation"`
	OlderThanMs int64                 `json:"olderThanMs,omitempty"`
}

func (m *MaintenanceRequest) Bind(*http.Request) error {
	if m.Operation == "" {
		return errors.New("operation is required")
	}
	return nil
}

// ConfigurationRequest is the body of PATCH /configuration.
type ConfigurationRequest struct {
	queue.ConfigurationParameter
}

func (*ConfigurationRequest) Bind(*http.Request) error { return nil }

// BatchSafetyRequest is the body of PATCH /configuration/batch-safety.
type BatchSafetyRequest struct {
	queue.BatchSafetySettings
}

func (*BatchSafetyRequest) Bind(*http.Request) error { return nil }

// ConfigurationUpdateResponse reports whether an update was applied.
type ConfigurationUpdateResponse struct {
	Updated       bool                `json:"updated"`
	Configuration queue.Configuration `json:"configuration"`
}

// ClearedResponse reports how many records were removed.
type ClearedResponse struct {
	Removed int `json:"removed"`
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := render.Bind(r, &req); err != nil {
		h.fail(w, r, errBadRequest(err))
		return
	}
	id, err := h.q.Submit(r.Context(), req.kind)
	if err != nil {
		h.fail(w, r, fromError(err))
		return
	}
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, SubmitResponse{ID: id})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	op, ok, err := h.q.GetStatus(r.Context(), id)
	if err != nil {
		h.fail(w, r, fromError(err))
		return
	}
	if !ok {
		h.fail(w, r, errNotFound(fmt.Sprintf("operation %s not found", id)))
		return
	}
	render.JSON(w, r, op)
}

func (h *Handler) statuses(w http.ResponseWriter, r *http.Request) {
	var req StatusesRequest
	if err := render.Bind(r, &req); err != nil {
		h.fail(w, r, errBadRequest(err))
		return
	}
	ops, err := h.q.GetStatuses(r.Context(), req.IDs)
	respond(h, w, r, ops, err)
}

func (h *Handler) clearCompleted(w http.ResponseWriter, r *http.Request) {
	n, err := h.q.ClearCompletedOperations(r.Context())
	respond(h, w, r, ClearedResponse{Removed: n}, err)
}

func (h *Handler) queueStatistics(w http.ResponseWriter, r *http.Request) {
	s, err := h.q.GetQueueStatistics(r.Context())
	respond(h, w, r, s, err)
}

func (h *Handler) queueState(w http.ResponseWriter, r *http.Request) {
	ops, err := h.q.GetQueueState(r.Context())
	respond(h, w, r, ops, err)
}

func (h *Handler) currentlyProcessing(w http.ResponseWriter, r *http.Request) {
	inflight, err := h.q.GetCurrentlyProcessing(r.Context())
	respond(h, w, r, inflight, err)
}

func (h *Handler) queueMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.q.GetQueueMetrics(r.Context())
	respond(h, w, r, m, err)
}

func (h *Handler) processBatch(w http.ResponseWriter, r *http.Request) {
	size, err := positiveQueryInt(r, "batch_size")
	if err != nil {
		h.fail(w, r, errBadRequest(err))
		return
	}
	// An explicit batch_size=0 is passed through and yields an empty batch.
	if !r.URL.Query().Has("batch_size") {
		cfg, err := h.q.GetConfiguration(r.Context())
		if err != nil {
			h.fail(w, r, fromError(err))
			return
		}
		size = cfg.MaxBatchSize
	}
	result, err := h.q.ProcessBatch(r.Context(), size)
	respond(h, w, r, result, err)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	report, err := h.q.HealthCheck(r.Context())
	if err != nil {
		h.fail(w, r, fromError(err))
		return
	}
	if report.Status == health.StatusCritical {
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, report)
}

func (h *Handler) maintenance(w http.ResponseWriter, r *http.Request) {
	var req MaintenanceRequest
	if err := render.Bind(r, &req); err != nil {
		h.fail(w, r, errBadRequest(err))
		return
	}
	op := queue.MaintenanceOperation{
		Kind:      req.Operation,
		OlderThan: time.Duration(req.OlderThanMs) * time.Millisecond,
	}
	result, err := h.q.PerformMaintenance(r.Context(), op)
	respond(h, w, r, result, err)
}

func (h *Handler) configuration(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.q.GetConfiguration(r.Context())
	respond(h, w, r, cfg, err)
}

func (h *Handler) updateConfiguration(w http.ResponseWriter, r *http.Request) {
	var req ConfigurationRequest
	if err := render.Bind(r, &req); err != nil {
		h.fail(w, r, errBadRequest(err))
		return
	}
	updated, err := h.q.UpdateConfiguration(r.Context(), req.ConfigurationParameter)
	if err != nil {
		h.fail(w, r, fromError(err))
		return
	}
	cfg, err := h.q.GetConfiguration(r.Context())
	if err != nil {
		h.fail(w, r, fromError(err))
		return
	}
	if !updated {
		render.Status(r, http.StatusUnprocessableEntity)
	}
	render.JSON(w, r, ConfigurationUpdateResponse{Updated: updated, Configuration: cfg})
}

func (h *Handler) batchSafety(w http.ResponseWriter, r *http.Request) {
	var req BatchSafetyRequest
	if err := render.Bind(r, &req); err != nil {
		h.fail(w, r, errBadRequest(err))
		return
	}
	cfg, err := h.q.ConfigureBatchSafety(r.Context(), req.BatchSafetySettings)
	respond(h, w, r, cfg, err)
}

func (h *Handler) errorLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.q.GetErrorLogs(r.Context())
	respond(h, w, r, logs, err)
}

func (h *Handler) errorStatistics(w http.ResponseWriter, r *http.Request) {
	s, err := h.q.GetErrorStatistics(r.Context())
	respond(h, w, r, s, err)
}

func (h *Handler) errorAnalysis(w http.ResponseWriter, r *http.Request) {
	a, err := h.q.GetDetailedErrorAnalysis(r.Context())
	respond(h, w, r, a, err)
}

func (h *Handler) processingStatistics(w http.ResponseWriter, r *http.Request) {
	s, err := h.q.GetProcessingStatistics(r.Context())
	respond(h, w, r, s, err)
}

func (h *Handler) resetProcessingStatistics(w http.ResponseWriter, r *http.Request) {
	if err := h.q.ResetProcessingStatistics(r.Context()); err != nil {
		h.fail(w, r, fromError(err))
		return
	}
	render.NoContent(w, r)
}

func (h *Handler) processingHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := positiveQueryInt(r, "limit")
	if err != nil {
		h.fail(w, r, errBadRequest(err))
		return
	}
	entries, err := h.q.GetProcessingHistory(r.Context(), limit)
	respond(h, w, r, entries, err)
}

func (h *Handler) rollingAverages(w http.ResponseWriter, r *http.Request) {
	a, err := h.q.GetRollingAverages(r.Context())
	respond(h, w, r, a, err)
}

func (h *Handler) typeStatistics(w http.ResponseWriter, r *http.Request) {
	s, err := h.q.GetOperationTypeStatistics(r.Context())
	respond(h, w, r, s, err)
}

func (h *Handler) utilization(w http.ResponseWriter, r *http.Request) {
	u, err := h.q.GetQueueUtilizationMetrics(r.Context())
	respond(h, w, r, u, err)
}

func (h *Handler) trends(w http.ResponseWriter, r *http.Request) {
	t, err := h.q.GetProcessingTrendAnalysis(r.Context())
	respond(h, w, r, t, err)
}

func (h *Handler) executorStatistics(w http.ResponseWriter, r *http.Request) {
	s, err := h.q.GetExecutorCallStatistics(r.Context())
	respond(h, w, r, s, err)
}

func (h *Handler) resetExecutorStatistics(w http.ResponseWriter, r *http.Request) {
	if err := h.q.ResetExecutorCallStatistics(r.Context()); err != nil {
		h.fail(w, r, fromError(err))
		return
	}
	render.NoContent(w, r)
}

func (h *Handler) batchStatistics(w http.ResponseWriter, r *http.Request) {
	s, err := h.q.GetBatchProcessingStatistics(r.Context())
	respond(h, w, r, s, err)
}

func (h *Handler) resetBatchStatistics(w http.ResponseWriter, r *http.Request) {
	if err := h.q.ResetBatchProcessingStatistics(r.Context()); err != nil {
		h.fail(w, r, fromError(err))
		return
	}
	render.NoContent(w, r)
}

// positiveQueryInt parses an optional non-negative integer parameter.
// A missing parameter yields 0.
func positiveQueryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %q", name, raw)
	}
	return n, nil
}
