package httpx

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/target/bms-ingest/internal/breaker"
	"github.com/target/bms-ingest/internal/domain/model"
)

// BreakerHandlers exposes circuit breaker state to operators.
type BreakerHandlers struct {
	Registry *breaker.Registry
	Logger   *slog.Logger
}

type resetBreakerRequest struct {
	Key string `json:"key"`
}

// List handles GET /api/admin/breakers.
func (h *BreakerHandlers) List(w http.ResponseWriter, r *http.Request) {
	states, err := h.Registry.List(r.Context())
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	if states == nil {
		states = []model.BreakerState{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"threshold": h.Registry.Threshold(),
		"cooldown":  h.Registry.Cooldown().String(),
		"breakers":  states,
	})
}

// Reset handles POST /api/admin/breakers/reset. An empty key resets every breaker.
func (h *BreakerHandlers) Reset(w http.ResponseWriter, r *http.Request) {
	var req resetBreakerRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}

	key := strings.TrimSpace(req.Key)
	if key == "" {
		results, err := h.Registry.ResetAll(r.Context())
		if err != nil {
			writeServiceError(w, r, h.Logger, err)
			return
		}
		if results == nil {
			results = []model.BreakerResetResult{}
		}
		WriteJSON(w, http.StatusOK, map[string]any{"reset": results})
		return
	}

	res, err := h.Registry.Reset(r.Context(), key)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	if h.Logger != nil {
		h.Logger.InfoContext(r.Context(), "breaker reset by operator", "key", res.Key, "was_open", res.WasOpen)
	}
	WriteJSON(w, http.StatusOK, res)
}
