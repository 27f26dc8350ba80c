package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/target/bms-ingest/internal/core"
	"github.com/target/bms-ingest/internal/data/pgxutil"
	"github.com/target/bms-ingest/internal/domain/model"
	apperrors "github.com/target/bms-ingest/internal/errors"
)

// errNoTransition aborts a transaction whose guarded UPDATE matched no row.
var errNoTransition = errors.New("job state did not match")

const insertBatchSQL = `
  INSERT INTO batches (id, status, total_jobs, completed_jobs, failed_jobs, jobs, version, created_at, updated_at, completed_at)
  VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $7, $8)`

const insertJobSQL = `
  INSERT INTO jobs (id, batch_id, status, file_name, basename, payload, context, force_reprocess, retry_count, created_at, updated_at)
  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, $9)`

// qualifiedJobColumns is jobColumns prefixed with the "j" alias for UPDATE ... FROM statements.
var qualifiedJobColumns = qualifyColumns("j", jobColumns)

// summaryJobColumns is jobColumns with the image payload read as NULL, for
// listings that never return it.
var summaryJobColumns = strings.Replace(jobColumns, "payload,", "NULL AS payload,", 1)

func qualifyColumns(alias, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// validID reports whether id can name a row; malformed ids are treated as missing.
func validID(id string) bool {
	_, err := uuid.Parse(strings.TrimSpace(id))
	return err == nil
}

// CreateBatch inserts the batch (when present) and every job in one transaction.
// Either all rows become visible or none do.
func (r *JobRepo) CreateBatch(ctx context.Context, params core.CreateBatchParams) error {
	if len(params.Jobs) == 0 {
		return errors.New("at least one job is required")
	}

	now := r.timeProvider.Now().UTC()
	b := &pgx.Batch{}
	if params.Batch != nil {
		entries, err := json.Marshal(params.Batch.Jobs)
		if err != nil {
			return fmt.Errorf("marshal batch jobs: %w", err)
		}
		createdAt := params.Batch.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		b.Queue(insertBatchSQL,
			params.Batch.ID,
			params.Batch.Status,
			params.Batch.TotalJobs,
			params.Batch.CompletedJobs,
			params.Batch.FailedJobs,
			entries,
			createdAt.UTC(),
			params.Batch.CompletedAt,
		)
	}

	for _, job := range params.Jobs {
		if job.CreatedAt.IsZero() {
			job.CreatedAt = now
			job.UpdatedAt = now
		}
		b.Queue(insertJobSQL,
			job.ID,
			job.BatchID,
			job.Status,
			job.FileName,
			job.Basename,
			nullableJSON(job.Payload),
			nullableJSON(job.Context),
			job.Force,
			job.CreatedAt.UTC(),
		)
	}

	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			return pgxutil.ExecBatch(ctx, tx, b)
		},
	})
	if err != nil {
		return fmt.Errorf("create batch: %w", apperrors.MapDBError(err))
	}
	return nil
}

// GetByID retrieves a job by its ID.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	if !validID(id) {
		return nil, model.ErrJobNotFound
	}

	var job *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, err := pgxConn.Query(ctx, `
			SELECT `+jobColumns+`
			FROM jobs
			WHERE id = $1
		`, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		var cerr error
		job, cerr = collectJobFromRows(rows)
		return cerr
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", apperrors.MapDBError(err))
	}
	return job, nil
}

// Claim moves a Queued job to Processing. Only one caller can win the claim.
func (r *JobRepo) Claim(ctx context.Context, id string) (*model.Job, error) {
	if !validID(id) {
		return nil, model.ErrJobNotFound
	}

	now := r.timeProvider.Now().UTC()
	row := r.DB.QueryRowContext(ctx, `
		UPDATE jobs
		SET status = 'Processing',
		    started_at = $2,
		    next_retry_at = NULL,
		    updated_at = $2
		WHERE id = $1 AND status = 'Queued'
		RETURNING `+jobColumns, id, now)

	job, err := scanJobFromRow(row)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("claim job: %w", apperrors.MapDBError(err))
	}

	exists, existsErr := r.exists(ctx, id)
	if existsErr != nil {
		return nil, existsErr
	}
	if !exists {
		return nil, model.ErrJobNotFound
	}
	return nil, model.ErrJobNotClaimable
}

func (r *JobRepo) exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	if err := r.DB.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check job: %w", apperrors.MapDBError(err))
	}
	return exists, nil
}

// Complete inserts the analysis record and marks the Processing job completed
// in the same transaction. Returns false when the job was not Processing.
func (r *JobRepo) Complete(ctx context.Context, params core.CompleteJobParams) (bool, error) {
	if params.Record == nil {
		return false, errors.New("analysis record is required")
	}
	if !validID(params.JobID) {
		return false, nil
	}

	now := r.timeProvider.Now().UTC()
	rec := params.Record
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}

	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, `
				INSERT INTO analysis_records (id, job_id, file_name, basename, provider, result, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, rec.ID, rec.JobID, rec.FileName, rec.Basename, rec.Provider, []byte(rec.Result), rec.CreatedAt.UTC()); err != nil {
				return fmt.Errorf("insert analysis record: %w", err)
			}

			tag, err := tx.Exec(ctx, `
				UPDATE jobs
				SET status = 'completed',
				    result = $2,
				    record_id = $3,
				    error = NULL,
				    next_retry_at = NULL,
				    completed_at = $4,
				    updated_at = $4
				WHERE id = $1 AND status = 'Processing'
			`, params.JobID, []byte(rec.Result), rec.ID, now)
			if err != nil {
				return fmt.Errorf("complete job: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return errNoTransition
			}
			return nil
		},
	})
	if errors.Is(err, errNoTransition) {
		return false, nil
	}
	if err != nil {
		return false, apperrors.MapDBError(err)
	}
	return true, nil
}

// Fail moves a Queued or Processing job to failed.
func (r *JobRepo) Fail(ctx context.Context, params core.FailJobParams) (bool, error) {
	if !validID(params.JobID) {
		return false, nil
	}

	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'failed',
		    error = $2,
		    retry_count = COALESCE($3::integer, retry_count),
		    next_retry_at = NULL,
		    completed_at = $4,
		    updated_at = $4
		WHERE id = $1 AND status IN ('Queued', 'Processing')
	`, params.JobID, params.Reason, params.RetryCount, now)
	return r.transitioned(res, err, "fail job")
}

// Requeue moves a Processing job back to Queued. The guard on retry_count keeps
// the counter strictly increasing even if two callers race.
func (r *JobRepo) Requeue(ctx context.Context, params core.RequeueJobParams) (bool, error) {
	if !validID(params.JobID) {
		return false, nil
	}

	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'Queued',
		    retry_count = $2,
		    next_retry_at = $3,
		    error = $4,
		    updated_at = $5
		WHERE id = $1 AND status = 'Processing' AND retry_count < $2
	`, params.JobID, params.RetryCount, params.NextRetryAt.UTC(), params.Reason, now)
	return r.transitioned(res, err, "requeue job")
}

// Defer returns a Processing job to Queued without spending retry budget. A
// job that is still Queued just gets its nextRetryAt set.
func (r *JobRepo) Defer(ctx context.Context, jobID string, nextRetryAt time.Time) (bool, error) {
	if !validID(jobID) {
		return false, nil
	}

	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'Queued',
		    next_retry_at = $2,
		    updated_at = $3
		WHERE id = $1 AND status IN ('Processing', 'Queued')
	`, jobID, nextRetryAt.UTC(), now)
	return r.transitioned(res, err, "defer job")
}

func (r *JobRepo) transitioned(res sql.Result, err error, op string) (bool, error) {
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, apperrors.MapDBError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: rows affected: %w", op, err)
	}
	return n > 0, nil
}

// ClaimDueRetries hands out Queued jobs whose retry time has passed and pushes
// their next_retry_at forward by the grace window.
func (r *JobRepo) ClaimDueRetries(ctx context.Context, params core.ClaimDueRetriesParams) ([]*model.Job, error) {
	if params.Limit <= 0 {
		return nil, nil
	}
	now := params.Now.UTC()
	if now.IsZero() {
		now = r.timeProvider.Now().UTC()
	}

	var jobs []*model.Job
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			rows, err := tx.Query(ctx, `
				WITH due AS (
				  SELECT id FROM jobs
				  WHERE status = 'Queued'
				    AND next_retry_at IS NOT NULL
				    AND next_retry_at <= $1
				  ORDER BY next_retry_at ASC
				  LIMIT $2
				  FOR UPDATE SKIP LOCKED
				)
				UPDATE jobs j
				SET next_retry_at = $3, updated_at = $1
				FROM due
				WHERE j.id = due.id
				RETURNING `+qualifiedJobColumns,
				now, params.Limit, now.Add(params.Grace))
			if err != nil {
				return err
			}
			defer rows.Close()
			for rows.Next() {
				job, scanErr := scanJobFromRow(rows)
				if scanErr != nil {
					return scanErr
				}
				jobs = append(jobs, job)
			}
			return rows.Err()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("claim due retries: %w", apperrors.MapDBError(err))
	}
	return jobs, nil
}

// ListByBatch returns every job of a batch in creation order.
func (r *JobRepo) ListByBatch(ctx context.Context, batchID string) ([]*model.Job, error) {
	if !validID(batchID) {
		return nil, nil
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+summaryJobColumns+`
		FROM jobs
		WHERE batch_id = $1
		ORDER BY created_at ASC, id ASC
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list batch jobs: %w", apperrors.MapDBError(err))
	}
	defer func() { _ = rows.Close() }()

	var jobs []*model.Job
	for rows.Next() {
		job, scanErr := scanJobFromRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan job: %w", scanErr)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batch jobs: %w", err)
	}
	return jobs, nil
}

// StatusesByBatch returns job id → status for a batch.
func (r *JobRepo) StatusesByBatch(ctx context.Context, batchID string) (map[string]model.JobStatus, error) {
	out := make(map[string]model.JobStatus)
	if !validID(batchID) {
		return out, nil
	}

	rows, err := r.DB.QueryContext(ctx, `SELECT id, status FROM jobs WHERE batch_id = $1`, batchID)
	if err != nil {
		return nil, fmt.Errorf("batch job statuses: %w", apperrors.MapDBError(err))
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id string
		var status model.JobStatus
		if scanErr := rows.Scan(&id, &status); scanErr != nil {
			return nil, fmt.Errorf("scan status: %w", scanErr)
		}
		out[id] = status
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate statuses: %w", err)
	}
	return out, nil
}

// CountsByBatch aggregates a batch's jobs by status.
func (r *JobRepo) CountsByBatch(ctx context.Context, batchID string) (model.JobStatusCounts, error) {
	var counts model.JobStatusCounts
	if !validID(batchID) {
		return counts, nil
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT status, count(*)
		FROM jobs
		WHERE batch_id = $1
		GROUP BY status
	`, batchID)
	if err != nil {
		return counts, fmt.Errorf("count batch jobs: %w", apperrors.MapDBError(err))
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var status model.JobStatus
		var n int
		if scanErr := rows.Scan(&status, &n); scanErr != nil {
			return counts, fmt.Errorf("scan count: %w", scanErr)
		}
		counts.Add(status, n)
	}
	if err := rows.Err(); err != nil {
		return counts, fmt.Errorf("iterate counts: %w", err)
	}
	return counts, nil
}
