package httpx

import (
	"log/slog"
	"net/http"

	"github.com/target/bms-ingest/internal/breaker"
	"github.com/target/bms-ingest/internal/service"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Dispatcher *service.Dispatcher
	Jobs       *service.JobService
	Aggregator *service.BatchAggregator
	Feedback   *service.FeedbackService
	Breakers   *breaker.Registry
	// Ready holds the dependency checks behind /readyz.
	Ready  map[string]ReadinessCheck
	Logger *slog.Logger // optional
}

// NewRouter creates the API mux. Method mismatches on a known path get 405
// from the pattern matcher.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	if services.Dispatcher != nil && services.Jobs != nil {
		registerAnalysisRoutes(mux, &AnalysisHandlers{
			Dispatcher: services.Dispatcher,
			Jobs:       services.Jobs,
			Logger:     logger,
		})
	}
	if services.Jobs != nil && services.Aggregator != nil {
		registerJobRoutes(mux, &JobHandlers{Svc: services.Jobs, Aggregator: services.Aggregator, Logger: logger})
	}
	if services.Feedback != nil {
		registerFeedbackRoutes(mux, &FeedbackHandlers{Svc: services.Feedback, Logger: logger})
	}
	if services.Breakers != nil {
		registerAdminRoutes(mux, &BreakerHandlers{Registry: services.Breakers, Logger: logger})
	}
	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("GET /readyz", readyHandler(services.Ready, logger))

	return mux
}

func registerAnalysisRoutes(mux *http.ServeMux, h *AnalysisHandlers) {
	mux.HandleFunc("POST /api/analyze", h.Analyze)
	mux.HandleFunc("GET /api/analyze/status", h.Status)
	mux.HandleFunc("POST /api/process-analysis", h.Process)
}

func registerJobRoutes(mux *http.ServeMux, h *JobHandlers) {
	mux.HandleFunc("GET /api/jobs/{id}", h.GetJob)
	mux.HandleFunc("GET /api/batches/{id}", h.GetBatch)
	mux.HandleFunc("GET /api/batches/{id}/jobs", h.ListBatchJobs)
	mux.HandleFunc("POST /api/batches/{id}/reconcile", h.Reconcile)
}

func registerFeedbackRoutes(mux *http.ServeMux, h *FeedbackHandlers) {
	mux.HandleFunc("POST /api/feedback", h.Create)
	mux.HandleFunc("GET /api/feedback", h.List)
}

func registerAdminRoutes(mux *http.ServeMux, h *BreakerHandlers) {
	mux.HandleFunc("GET /api/admin/breakers", h.List)
	mux.HandleFunc("POST /api/admin/breakers/reset", h.Reset)
}
