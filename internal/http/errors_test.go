package httpx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/target/bms-ingest/internal/breaker"
	"github.com/target/bms-ingest/internal/domain/model"
	apperrors "github.com/target/bms-ingest/internal/errors"
	"github.com/target/bms-ingest/internal/service"
)

func TestDetermineErrorStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"validation", apperrors.Validation("images is required"), http.StatusBadRequest, "invalid_request"},
		{"wrapped job not found", fmt.Errorf("get job x: %w", model.ErrJobNotFound), http.StatusNotFound, "not_found"},
		{"batch not found", model.ErrBatchNotFound, http.StatusNotFound, "not_found"},
		{"app not found", apperrors.NotFound("record"), http.StatusNotFound, "not_found"},
		{"not claimable", model.ErrJobNotClaimable, http.StatusConflict, "job_not_queued"},
		{"conflict", apperrors.Conflict("exists"), http.StatusConflict, "conflict"},
		{"version conflict", apperrors.VersionConflict("stale"), http.StatusConflict, "conflict"},
		{"unique violation", &pgconn.PgError{Code: pgerrcode.UniqueViolation}, http.StatusConflict, "conflict"},
		{"query canceled", &pgconn.PgError{Code: pgerrcode.QueryCanceled}, http.StatusGatewayTimeout, "timeout"},
		{"deadline", fmt.Errorf("provider: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, "timeout"},
		{"circuit open", &breaker.OpenError{Key: breaker.GlobalKey}, http.StatusInternalServerError, "circuit_open"},
		{"anything else", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, errCode := DetermineErrorStatus(tt.err)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantErr, errCode)
		})
	}
}

func TestWriteServiceErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/jobs/x", nil)

	writeServiceError(rec, req, nil, errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestWriteServiceErrorDuplicate(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/feedback", nil)

	writeServiceError(rec, req, nil, &service.DuplicateError{Result: model.DuplicateResult{
		Kind:    model.DuplicateSemantic,
		MatchID: "fb-1",
		Score:   0.91,
	}})

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{
		"error": "duplicate",
		"message": "feedback is a near duplicate of fb-1 (score 0.91)",
		"match": {"matchType": "semantic_duplicate", "matchId": "fb-1", "score": 0.91}
	}`, rec.Body.String())
}
