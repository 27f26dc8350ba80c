package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/target/bms-ingest/internal/core"
	"github.com/target/bms-ingest/internal/data/pgxutil"
	"github.com/target/bms-ingest/internal/domain/model"
)

// Advisory lock namespace for reaper operations.
// Using two-arg pg_try_advisory_xact_lock(major, minor) for proper namespacing.
// Major key 2000 is reserved for bms-ingest reaper operations.
const (
	advisoryLockReaperMajor           = 2000
	advisoryLockReaperStaleProcessing = 1 // minor key for RequeueStaleProcessing
	advisoryLockReaperFailQueued      = 2 // minor key for FailStaleQueuedJobs
	advisoryLockReaperStrip           = 3 // minor key for StripTerminalPayloads
)

const (
	staleProcessingReason = "processing timed out"
	staleQueuedReason     = "Job timed out in queued status"
)

// withReaperLock runs fn inside a transaction holding the given reaper lock.
// fn is skipped when another instance holds the lock.
func (r *JobRepo) withReaperLock(ctx context.Context, minor int, fn func(tx *sql.Tx) error) error {
	return pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)", advisoryLockReaperMajor, minor).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				r.logger.DebugContext(ctx, "reaper lock held elsewhere", "minor", minor)
				return nil
			}
			return fn(tx)
		},
	})
}

func scanJobRefs(rows *sql.Rows) ([]model.JobRef, error) {
	defer func() { _ = rows.Close() }()
	var refs []model.JobRef
	for rows.Next() {
		var ref model.JobRef
		var batchID sql.NullString
		if err := rows.Scan(&ref.ID, &batchID, &ref.Status); err != nil {
			return nil, fmt.Errorf("scan job ref: %w", err)
		}
		ref.BatchID = cloneNullableString(batchID)
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job refs: %w", err)
	}
	return refs, nil
}

// RequeueStaleProcessing returns Processing jobs that have not been touched for
// MaxAge to Queued, due immediately, spending one retry. Jobs whose budget is
// already spent are failed instead and reported so their batches can be updated.
func (r *JobRepo) RequeueStaleProcessing(
	ctx context.Context,
	params core.RequeueStaleParams,
) (core.StaleProcessingResult, error) {
	var result core.StaleProcessingResult
	if params.BatchSize <= 0 {
		return result, errors.New("batch size must be greater than zero")
	}
	if params.MaxAge <= 0 {
		return result, errors.New("max age must be greater than zero")
	}

	err := r.withReaperLock(ctx, advisoryLockReaperStaleProcessing, func(tx *sql.Tx) error {
		now := r.timeProvider.Now().UTC()
		rows, err := tx.QueryContext(ctx, `
			WITH stale AS (
			  SELECT id FROM jobs
			  WHERE status = 'Processing'
			    AND updated_at < $1
			  ORDER BY updated_at
			  LIMIT $2
			  FOR UPDATE SKIP LOCKED
			)
			UPDATE jobs j
			SET status = CASE WHEN j.retry_count >= $3::integer THEN 'failed' ELSE 'Queued' END,
			    retry_count = CASE WHEN j.retry_count >= $3::integer THEN j.retry_count ELSE j.retry_count + 1 END,
			    error = CASE WHEN j.retry_count >= $3::integer THEN $5 ELSE $6 END,
			    next_retry_at = CASE WHEN j.retry_count >= $3::integer THEN NULL ELSE $4::timestamptz END,
			    completed_at = CASE WHEN j.retry_count >= $3::integer THEN $4::timestamptz ELSE NULL END,
			    updated_at = $4::timestamptz
			FROM stale
			WHERE j.id = stale.id
			RETURNING j.id, j.batch_id, j.status
		`, now.Add(-params.MaxAge), params.BatchSize, params.MaxRetries, now,
			"Max retries exceeded: "+staleProcessingReason, staleProcessingReason)
		if err != nil {
			return fmt.Errorf("requeue stale processing jobs: %w", err)
		}
		refs, err := scanJobRefs(rows)
		if err != nil {
			return err
		}
		for _, ref := range refs {
			if ref.Status == model.JobStatusFailed {
				result.Failed = append(result.Failed, ref)
				continue
			}
			result.Requeued++
		}
		return nil
	})
	if err != nil {
		return core.StaleProcessingResult{}, err
	}
	return result, nil
}

// FailStaleQueuedJobs marks Queued jobs older than maxAge that never reached the
// retry schedule as failed. Processes up to batchSize jobs per call.
func (r *JobRepo) FailStaleQueuedJobs(ctx context.Context, maxAge time.Duration, batchSize int) ([]model.JobRef, error) {
	if batchSize <= 0 {
		return nil, errors.New("batch size must be greater than zero")
	}

	var refs []model.JobRef
	err := r.withReaperLock(ctx, advisoryLockReaperFailQueued, func(tx *sql.Tx) error {
		now := r.timeProvider.Now().UTC()
		rows, err := tx.QueryContext(ctx, `
			UPDATE jobs
			SET status = 'failed',
			    error = $4,
			    completed_at = $1,
			    updated_at = $1
			WHERE id IN (
			  SELECT id FROM jobs
			  WHERE status = 'Queued'
			    AND next_retry_at IS NULL
			    AND created_at < $2
			  ORDER BY created_at
			  LIMIT $3
			  FOR UPDATE SKIP LOCKED
			)
			RETURNING id, batch_id, status
		`, now, now.Add(-maxAge), batchSize, staleQueuedReason)
		if err != nil {
			return fmt.Errorf("fail stale queued jobs: %w", err)
		}
		var scanErr error
		refs, scanErr = scanJobRefs(rows)
		return scanErr
	})
	if err != nil {
		return nil, err
	}
	return refs, nil
}

// StripTerminalPayloads drops the image bytes of terminal jobs older than maxAge,
// keeping file name and mime type. Returns the number of jobs stripped.
func (r *JobRepo) StripTerminalPayloads(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	if batchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}

	var rowsAffected int64
	err := r.withReaperLock(ctx, advisoryLockReaperStrip, func(tx *sql.Tx) error {
		now := r.timeProvider.Now().UTC()
		res, err := tx.ExecContext(ctx, `
			UPDATE jobs
			SET payload = payload - 'data',
			    payload_stripped = TRUE
			WHERE id IN (
			  SELECT id FROM jobs
			  WHERE status IN ('completed', 'failed')
			    AND payload_stripped = FALSE
			    AND completed_at <= $1
			  ORDER BY completed_at
			  LIMIT $2
			)
		`, now.Add(-maxAge), batchSize)
		if err != nil {
			return fmt.Errorf("strip terminal payloads: %w", err)
		}

		ra, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		rowsAffected = ra
		return nil
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}
