// Package httpx provides the JSON HTTP API for the image analysis pipeline.
package httpx

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/target/bms-ingest/internal/domain/model"
	apperrors "github.com/target/bms-ingest/internal/errors"
	"github.com/target/bms-ingest/internal/service"
)

// AnalysisHandlers serves dispatch, worker kickoff and status lookups.
type AnalysisHandlers struct {
	Dispatcher *service.Dispatcher
	Jobs       *service.JobService
	Logger     *slog.Logger
}

// Analyze accepts a batch of images and returns 202 with the batch id.
// A request whose items were all duplicates returns 200 with no batch.
func (h *AnalysisHandlers) Analyze(w http.ResponseWriter, r *http.Request) {
	var req model.AnalyzeRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	resp, err := h.Dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}

	code := http.StatusAccepted
	if resp.Submitted == 0 {
		code = http.StatusOK
	}
	WriteJSON(w, code, resp)
}

// Process kicks off processing of a Queued job.
func (h *AnalysisHandlers) Process(w http.ResponseWriter, r *http.Request) {
	var req model.ProcessRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeServiceError(w, r, h.Logger, apperrors.Validation(err.Error()))
		return
	}

	res, err := h.Jobs.Kickoff(r.Context(), strings.TrimSpace(req.JobID))
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, res)
}

// Status returns a batch (?batchId=) or a job (?jobId=).
func (h *AnalysisHandlers) Status(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	batchID := strings.TrimSpace(q.Get("batchId"))
	jobID := strings.TrimSpace(q.Get("jobId"))

	switch {
	case batchID != "":
		batch, err := h.Jobs.GetBatch(r.Context(), batchID)
		if err != nil {
			writeServiceError(w, r, h.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, batch)
	case jobID != "":
		job, err := h.Jobs.GetJob(r.Context(), jobID)
		if err != nil {
			writeServiceError(w, r, h.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, job)
	default:
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "invalid_request",
			Err:     errors.New("batchId or jobId is required"),
		})
	}
}
