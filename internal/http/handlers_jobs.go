package httpx

import (
	"log/slog"
	"net/http"

	"github.com/target/bms-ingest/internal/service"
)

// JobHandlers serves job and batch records.
type JobHandlers struct {
	Svc        *service.JobService
	Aggregator *service.BatchAggregator
	Logger     *slog.Logger
}

// GetJob handles GET /api/jobs/{id}.
func (h *JobHandlers) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	job, err := h.Svc.GetJob(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// GetBatch handles GET /api/batches/{id}.
func (h *JobHandlers) GetBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	batch, err := h.Svc.GetBatch(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, batch)
}

// ListBatchJobs handles GET /api/batches/{id}/jobs.
func (h *JobHandlers) ListBatchJobs(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	jobs, err := h.Svc.ListBatchJobs(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"batchId": id, "jobs": jobs})
}

// Reconcile handles POST /api/batches/{id}/reconcile.
func (h *JobHandlers) Reconcile(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	batch, err := h.Aggregator.Reconcile(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, batch)
}
