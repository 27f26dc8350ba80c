package service

import (
	"context"
	"errors"

	apperrors "github.com/target/bms-ingest/internal/errors"
	"github.com/target/bms-ingest/internal/retry"
)

// storeOp names p for a read or an idempotent store write.
func storeOp(p retry.Policy, op string) retry.Policy {
	p.Op = op
	return p
}

// casOp names p for a compare-and-swap write. A lost race is never retried
// here since the caller has to re-read before writing again.
func casOp(p retry.Policy, op string) retry.Policy {
	p.Op = op
	p.Retryable = func(err error) bool {
		return apperrors.IsRetryable(err) && !apperrors.IsVersionConflict(err)
	}
	return p
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func suppressContextCancellation(err error) error {
	if isContextCancellation(err) {
		return nil
	}
	return err
}
