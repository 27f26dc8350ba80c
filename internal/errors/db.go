package errors

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Regular expressions for parsing PgError.Detail messages.
var (
	// reKeyField extracts field name from unique violation detail: "Key (field)=(value) already exists.".
	reKeyField = regexp.MustCompile(`Key \(([^)]+)\)=`)
	// reReferencedFrom detects parent deletion: "... is still referenced from table ...".
	reReferencedFrom = regexp.MustCompile(`is still referenced from table "?([^"]+)"?`)
	// reNotPresent detects missing parent: "... is not present in table ...".
	reNotPresent = regexp.MustCompile(`is not present in table "?([^"]+)"?`)
)

// MapDBError maps database errors to AppError instances.
// It handles common database error patterns including:
// - pgx.ErrNoRows → NotFound
// - Unique constraint violations → Conflict
// - Foreign key violations → ForeignKey
// - Check constraint violations → Validation
// - NOT NULL violations → Validation
// - Serialization failures, deadlocks, connection exceptions → Unavailable
// - Context timeouts/cancellations → Timeout/Canceled
//
// If the error is not a recognized database error, it returns the original error.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}

	// Check for context errors first
	if errors.Is(err, context.DeadlineExceeded) {
		return &AppError{
			Code:    ErrCodeTimeout,
			Message: "Request timed out. Please try again.",
			Cause:   err,
		}
	}
	if errors.Is(err, context.Canceled) {
		return &AppError{
			Code:    ErrCodeCanceled,
			Message: "Request was canceled.",
			Cause:   err,
		}
	}

	// Check for pgx.ErrNoRows (not found)
	if errors.Is(err, pgx.ErrNoRows) {
		return &AppError{
			Code:    ErrCodeNotFound,
			Message: "Resource not found",
			Cause:   err,
		}
	}

	// Check for PostgreSQL errors
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return mapPgError(pgErr)
	}

	// Return original error if not a recognized database error
	return err
}

// mapPgError maps PostgreSQL-specific errors to AppError instances.
func mapPgError(pgErr *pgconn.PgError) error {
	if isTransientPgError(pgErr) {
		return &AppError{
			Code:    ErrCodeUnavailable,
			Message: "The database is temporarily unavailable. Please try again.",
			Cause:   pgErr,
		}
	}

	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		return mapUniqueViolation(pgErr)
	case pgerrcode.ForeignKeyViolation:
		return mapForeignKeyViolation(pgErr)
	case pgerrcode.CheckViolation:
		return mapCheckViolation(pgErr)
	case pgerrcode.NotNullViolation:
		return mapNotNullViolation(pgErr)
	default:
		// Return wrapped internal error for unhandled database errors
		return &AppError{
			Code:    ErrCodeInternal,
			Message: "A database error occurred. Please try again.",
			Cause:   pgErr,
		}
	}
}

// isTransientPgError reports SQLSTATEs that clear up on retry: contention
// (serialization failures, deadlocks, lock timeouts) and connection or
// resource exhaustion classes.
func isTransientPgError(pgErr *pgconn.PgError) bool {
	switch pgErr.Code {
	case pgerrcode.SerializationFailure,
		pgerrcode.DeadlockDetected,
		pgerrcode.LockNotAvailable,
		pgerrcode.AdminShutdown,
		pgerrcode.CrashShutdown,
		pgerrcode.CannotConnectNow,
		pgerrcode.TooManyConnections:
		return true
	}
	return pgerrcode.IsConnectionException(pgErr.Code) ||
		pgerrcode.IsInsufficientResources(pgErr.Code)
}

// constraintError builds an AppError for a constraint violation, attaching
// field when it is known.
func constraintError(code ErrorCode, pgErr *pgconn.PgError, field, message string) *AppError {
	return &AppError{Code: code, Message: message, Field: field, Cause: pgErr}
}

// mapUniqueViolation resolves the offending column from metadata, then the
// "Key (col)=(val)" detail, then the constraint name.
func mapUniqueViolation(pgErr *pgconn.PgError) error {
	field := pgErr.ColumnName
	if field == "" {
		if m := reKeyField.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
			field = m[1]
		}
	}
	if field == "" {
		field = fieldFromConstraint(pgErr.ConstraintName)
	}
	return constraintError(ErrCodeConflict, pgErr, field, "value already exists")
}

func mapForeignKeyViolation(pgErr *pgconn.PgError) error {
	var message string
	switch {
	case reReferencedFrom.MatchString(pgErr.Detail):
		message = "row is still in use by " + tableNoun(reReferencedFrom.FindStringSubmatch(pgErr.Detail)[1])
	case reNotPresent.MatchString(pgErr.Detail):
		message = "referenced " + tableNoun(reNotPresent.FindStringSubmatch(pgErr.Detail)[1]) + " does not exist"
	case pgErr.TableName != "":
		message = "row is in use by " + tableNoun(pgErr.TableName)
	default:
		message = foreignKeyMessage(pgErr.ConstraintName)
	}
	return constraintError(ErrCodeForeignKey, pgErr, "", message)
}

func mapNotNullViolation(pgErr *pgconn.PgError) error {
	if pgErr.ColumnName != "" {
		return constraintError(ErrCodeValidation, pgErr, pgErr.ColumnName, "field is required")
	}
	return constraintError(ErrCodeValidation, pgErr, "", "required field is missing")
}

func mapCheckViolation(pgErr *pgconn.PgError) error {
	if pgErr.ColumnName != "" {
		return constraintError(ErrCodeValidation, pgErr, pgErr.ColumnName, "field has an invalid value")
	}
	return constraintError(ErrCodeValidation, pgErr, "", "row violates "+pgErr.ConstraintName)
}

// sqlFuncs are names that show up as the middle segment of expression-index
// constraints, e.g. "feedback_lower_key".
var sqlFuncs = map[string]bool{
	"lower": true, "upper": true, "trim": true, "md5": true, "sha256": true,
}

// fieldFromConstraint reads the column out of "<table>_<column>_<suffix>".
// Longer names are multi-column or expression constraints and stay unresolved.
func fieldFromConstraint(name string) string {
	parts := strings.Split(name, "_")
	if len(parts) != 3 || sqlFuncs[strings.ToLower(parts[1])] {
		return ""
	}
	return parts[1]
}

var tableNouns = map[string]string{
	"jobs":             "job",
	"batches":          "batch",
	"analysis_records": "analysis record",
	"feedback":         "feedback",
}

func tableNoun(table string) string {
	table = strings.ToLower(strings.TrimSpace(table))
	if noun, ok := tableNouns[table]; ok {
		return noun
	}
	return strings.ReplaceAll(table, "_", " ")
}

// foreignKeyMessage falls back to the constraint name, e.g. "jobs_batch_id_fkey".
func foreignKeyMessage(constraint string) string {
	constraint = strings.ToLower(constraint)
	switch {
	case strings.Contains(constraint, "batch"):
		return "referenced batch does not exist"
	case strings.Contains(constraint, "job"):
		return "row is in use by a job"
	default:
		return "row is still referenced"
	}
}
