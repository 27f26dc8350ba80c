package httpx

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/target/bms-ingest/internal/domain/model"
	"github.com/target/bms-ingest/internal/service"
)

// FeedbackHandlers serves duplicate-checked feedback.
type FeedbackHandlers struct {
	Svc    *service.FeedbackService
	Logger *slog.Logger
}

// Create handles POST /api/feedback. Duplicates are rejected with 409 and the match.
func (h *FeedbackHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateFeedbackRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	fb, err := h.Svc.Submit(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusCreated, fb)
}

// List handles GET /api/feedback?systemId=&limit=.
func (h *FeedbackHandlers) List(w http.ResponseWriter, r *http.Request) {
	systemID := strings.TrimSpace(r.URL.Query().Get("systemId"))
	items, err := h.Svc.List(r.Context(), systemID, parseIntQuery(r, "limit", 0))
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	if items == nil {
		items = []*model.Feedback{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"systemId": systemID, "items": items})
}
