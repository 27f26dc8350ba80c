package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/target/bms-ingest/internal/domain/model"
	apperrors "github.com/target/bms-ingest/internal/errors"
)

// BatchRepo stores batches with a version column used for compare-and-swap writes.
type BatchRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewBatchRepo creates a new BatchRepo. A nil time provider uses the system clock.
func NewBatchRepo(db *sql.DB, tp TimeProvider) *BatchRepo {
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &BatchRepo{DB: db, timeProvider: tp}
}

// Get returns the batch and the version it was read at.
func (r *BatchRepo) Get(ctx context.Context, id string) (*model.Batch, int64, error) {
	if !validID(id) {
		return nil, 0, model.ErrBatchNotFound
	}

	var (
		b           model.Batch
		entries     []byte
		completedAt sql.NullTime
		version     int64
	)
	err := r.DB.QueryRowContext(ctx, `
		SELECT id, status, total_jobs, completed_jobs, failed_jobs, jobs, created_at, completed_at, version
		FROM batches
		WHERE id = $1
	`, id).Scan(
		&b.ID,
		&b.Status,
		&b.TotalJobs,
		&b.CompletedJobs,
		&b.FailedJobs,
		&entries,
		&b.CreatedAt,
		&completedAt,
		&version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, model.ErrBatchNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("get batch: %w", apperrors.MapDBError(err))
	}

	if len(entries) > 0 {
		if err := json.Unmarshal(entries, &b.Jobs); err != nil {
			return nil, 0, fmt.Errorf("decode batch jobs: %w", err)
		}
	}
	b.CreatedAt = b.CreatedAt.UTC()
	b.CompletedAt = cloneNullableTime(completedAt)
	return &b, version, nil
}

// UpdateIfVersion writes batch only when the stored version still equals
// expected. A lost race returns a version_conflict AppError.
func (r *BatchRepo) UpdateIfVersion(ctx context.Context, batch *model.Batch, expected int64) (int64, error) {
	if batch == nil {
		return 0, errors.New("batch is required")
	}
	entries, err := json.Marshal(batch.Jobs)
	if err != nil {
		return 0, fmt.Errorf("marshal batch jobs: %w", err)
	}

	var next int64
	err = r.DB.QueryRowContext(ctx, `
		UPDATE batches
		SET status = $2,
		    completed_jobs = $3,
		    failed_jobs = $4,
		    jobs = $5,
		    completed_at = $6,
		    version = version + 1,
		    updated_at = $7
		WHERE id = $1 AND version = $8
		RETURNING version
	`,
		batch.ID,
		batch.Status,
		batch.CompletedJobs,
		batch.FailedJobs,
		entries,
		batch.CompletedAt,
		r.timeProvider.Now().UTC(),
		expected,
	).Scan(&next)
	if err == nil {
		return next, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("update batch: %w", apperrors.MapDBError(err))
	}

	var exists bool
	if existsErr := r.DB.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM batches WHERE id = $1)`, batch.ID).Scan(&exists); existsErr != nil {
		return 0, fmt.Errorf("check batch: %w", apperrors.MapDBError(existsErr))
	}
	if !exists {
		return 0, model.ErrBatchNotFound
	}
	return 0, apperrors.VersionConflict(fmt.Sprintf("batch %s changed since version %d", batch.ID, expected))
}
