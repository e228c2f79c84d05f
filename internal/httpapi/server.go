// Package httpapi exposes the queue engine as a JSON admin API.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rzpsarthak13/opqueue/internal/core"
	"github.com/rzpsarthak13/opqueue/internal/errorlog"
	"github.com/rzpsarthak13/opqueue/internal/health"
	"github.com/rzpsarthak13/opqueue/internal/logging"
	"github.com/rzpsarthak13/opqueue/internal/queue"
	"github.com/rzpsarthak13/opqueue/internal/stats"
)

// Queue is the engine surface the API serves. *queue.Engine implements it.
type Queue interface {
	Submit(ctx context.Context, kind core.OperationKind) (string, error)
	GetStatus(ctx context.Context, id string) (core.Operation, bool, error)
	GetStatuses(ctx context.Context, ids []string) ([]*core.Operation, error)
	GetQueueStatistics(ctx context.Context) (queue.QueueStatistics, error)
	GetQueueState(ctx context.Context) ([]core.Operation, error)
	GetCurrentlyProcessing(ctx context.Context) ([]queue.InFlight, error)
	ProcessBatch(ctx context.Context, requestedSize int) (queue.BatchResult, error)
	HealthCheck(ctx context.Context) (health.Report, error)
	GetQueueMetrics(ctx context.Context) (queue.Metrics, error)

	GetErrorLogs(ctx context.Context) ([]errorlog.Record, error)
	GetErrorStatistics(ctx context.Context) (errorlog.Statistics, error)
	GetDetailedErrorAnalysis(ctx context.Context) (errorlog.Analysis, error)

	GetProcessingStatistics(ctx context.Context) (stats.Snapshot, error)
	GetProcessingHistory(ctx context.Context, limit int) ([]stats.HistoryEntry, error)
	GetRollingAverages(ctx context.Context) (stats.RollingAverages, error)
	GetOperationTypeStatistics(ctx context.Context) (stats.TypeStatistics, error)
	GetQueueUtilizationMetrics(ctx context.Context) (stats.Utilization, error)
	GetProcessingTrendAnalysis(ctx context.Context) (stats.TrendAnalysis, error)
	ResetProcessingStatistics(ctx context.Context) error

	GetExecutorCallStatistics(ctx context.Context) (queue.ExecutorCallStatistics, error)
	ResetExecutorCallStatistics(ctx context.Context) error
	GetBatchProcessingStatistics(ctx context.Context) (queue.BatchProcessingStatistics, error)
	ResetBatchProcessingStatistics(ctx context.Context) error

	PerformMaintenance(ctx context.Context, op queue.MaintenanceOperation) (queue.MaintenanceResult, error)
	ClearCompletedOperations(ctx context.Context) (int, error)
	GetConfiguration(ctx context.Context) (queue.Configuration, error)
	UpdateConfiguration(ctx context.Context, p queue.ConfigurationParameter) (bool, error)
	ConfigureBatchSafety(ctx context.Context, s queue.BatchSafetySettings) (queue.Configuration, error)
}

var _ Queue = (*queue.Engine)(nil)

// Options configures the router.
type Options struct {
	// Gatherer backs /metrics. Nil leaves the route out.
	Gatherer prometheus.Gatherer

	// RequestTimeout bounds every request. Zero disables the timeout.
	RequestTimeout time.Duration

	Logger *slog.Logger
}

// Handler serves the admin API.
type Handler struct {
	q   Queue
	log *slog.Logger
}

// NewRouter builds the admin API router for q.
func NewRouter(q Queue, opts Options) http.Handler {
	h := &Handler{q: q, log: logging.WithComponent(opts.Logger, "httpapi")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)
	if opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(opts.RequestTimeout))
	}

	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Get("/health", h.health)

		r.Route("/operations", func(r chi.Router) {
			r.Post("/", h.submit)
			r.Post("/statuses", h.statuses)
			r.Delete("/completed", h.clearCompleted)
			r.Get("/{id}", h.status)
		})

		r.Route("/queue", func(r chi.Router) {
			r.Get("/statistics", h.queueStatistics)
			r.Get("/state", h.queueState)
			r.Get("/processing", h.currentlyProcessing)
			r.Get("/metrics", h.queueMetrics)
			r.Post("/process", h.processBatch)
		})

		r.Post("/maintenance", h.maintenance)

		r.Route("/configuration", func(r chi.Router) {
			r.Get("/", h.configuration)
			r.Patch("/", h.updateConfiguration)
			r.Patch("/batch-safety", h.batchSafety)
		})

		r.Route("/errors", func(r chi.Router) {
			r.Get("/", h.errorLogs)
			r.Get("/statistics", h.errorStatistics)
			r.Get("/analysis", h.errorAnalysis)
		})

		r.Route("/statistics", func(r chi.Router) {
			r.Get("/", h.processingStatistics)
			r.Delete("/", h.resetProcessingStatistics)
			r.Get("/history", h.processingHistory)
			r.Get("/rolling", h.rollingAverages)
			r.Get("/types", h.typeStatistics)
			r.Get("/utilization", h.utilization)
			r.Get("/trends", h.trends)
			r.Get("/executor", h.executorStatistics)
			r.Delete("/executor", h.resetExecutorStatistics)
			r.Get("/batches", h.batchStatistics)
			r.Delete("/batches", h.resetBatchStatistics)
		})
	})

	return r
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// fail renders err and logs server-side failures.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, apiErr *APIError) {
	apiErr.RequestID = middleware.GetReqID(r.Context())
	if apiErr.StatusCode >= http.StatusInternalServerError {
		h.log.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", apiErr.StatusCode,
			"error", apiErr.Message,
			"request_id", apiErr.RequestID,
		)
	}
	_ = render.Render(w, r, apiErr)
}

// respond renders v, or the error when err is non-nil.
func respond[T any](h *Handler, w http.ResponseWriter, r *http.Request, v T, err error) {
	if err != nil {
		h.fail(w, r, fromError(err))
		return
	}
	render.JSON(w, r, v)
}
