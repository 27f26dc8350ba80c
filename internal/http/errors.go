package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/target/bms-ingest/internal/breaker"
	"github.com/target/bms-ingest/internal/domain/model"
	apperrors "github.com/target/bms-ingest/internal/errors"
	"github.com/target/bms-ingest/internal/service"
)

// duplicateBody is the 409 payload of a rejected feedback submission.
type duplicateBody struct {
	Error   string                `json:"error"`
	Message string                `json:"message"`
	Match   model.DuplicateResult `json:"match"`
}

// DetermineErrorStatus maps a service error to an HTTP status and a stable error code.
func DetermineErrorStatus(err error) (int, string) {
	if err == nil {
		return http.StatusOK, ""
	}

	switch {
	case apperrors.IsValidation(err):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, model.ErrJobNotFound), errors.Is(err, model.ErrBatchNotFound),
		errors.Is(err, model.ErrRecordNotFound), apperrors.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, model.ErrJobNotClaimable):
		return http.StatusConflict, "job_not_queued"
	case apperrors.IsConflict(err), apperrors.IsVersionConflict(err), apperrors.IsForeignKey(err):
		return http.StatusConflict, "conflict"
	case breaker.IsOpen(err):
		return http.StatusInternalServerError, "circuit_open"
	case apperrors.IsTimeout(err), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	}

	// Raw driver errors that escaped MapDBError.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation, pgerrcode.ForeignKeyViolation:
			return http.StatusConflict, "conflict"
		case pgerrcode.QueryCanceled:
			return http.StatusGatewayTimeout, "timeout"
		}
	}

	return http.StatusInternalServerError, "internal_error"
}

// writeServiceError renders err as a JSON error response. Internal errors are
// logged and replaced with a generic message.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	if dup, ok := service.AsDuplicate(err); ok {
		WriteJSON(w, http.StatusConflict, duplicateBody{
			Error:   "duplicate",
			Message: dup.Error(),
			Match:   dup.Result,
		})
		return
	}

	code, errCode := DetermineErrorStatus(err)
	if code >= http.StatusInternalServerError {
		if logger != nil {
			logger.ErrorContext(r.Context(), "request failed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", code,
				"error", err,
			)
		}
		if errCode == "internal_error" {
			err = errors.New("internal server error")
		}
	}
	WriteError(w, ErrorParams{Code: code, ErrCode: errCode, Err: err})
}
