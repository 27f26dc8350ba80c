package errors

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
)

// TransientMarker tags provider failures that should be retried as a whole job.
const TransientMarker = "TRANSIENT_ERROR"

// IsRetryable reports whether an operation may be retried inline: the
// dependency could not be reached, or an optimistic-concurrency write lost.
// Timeouts and provider-reported failures are not retryable here.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if IsVersionConflict(err) || IsUnavailable(err) {
		return true
	}
	switch GetCode(err) {
	case ErrCodeValidation, ErrCodeNotFound, ErrCodeConflict, ErrCodeForeignKey,
		ErrCodeProvider, ErrCodeTransient, ErrCodeTimeout, ErrCodeCanceled:
		return false
	}
	return IsConnectivity(err)
}

// IsTransient reports whether a failure is an infra glitch rather than a
// permanent content error. Everything retryable inline is transient; so are
// timeouts and anything carrying TransientMarker.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if isCode(err, ErrCodeTransient) || IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if IsRetryable(err) {
		return true
	}
	return strings.Contains(err.Error(), TransientMarker)
}

// IsConnectivity detects network-level failures (refused, reset, broken pipe,
// unexpected EOF) and pgconn errors that are safe to retry.
func IsConnectivity(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	if pgconn.SafeToRetry(err) {
		return true
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return !opErr.Timeout()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return !netErr.Timeout()
	}
	return false
}
