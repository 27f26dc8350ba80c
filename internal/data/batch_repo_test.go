package data

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/bms-ingest/internal/domain/model"
	apperrors "github.com/target/bms-ingest/internal/errors"
	"github.com/target/bms-ingest/internal/testutil"
)

func TestBatchRepo_UpdateIfVersion(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		jobs, tp := newTestJobRepo(db)
		repo := NewBatchRepo(db, tp)
		ctx := context.Background()

		a := testutil.NewJob().WithFileName("a.png").Build()
		b := testutil.NewJob().WithFileName("b.png").Build()
		batch := createBatchOf(t, jobs, a, b)

		first, v1, err := repo.Get(ctx, batch.ID)
		require.NoError(t, err)
		second, _, err := repo.Get(ctx, batch.ID)
		require.NoError(t, err)

		_, err = first.ApplyJobResult(a.ID, model.JobStatusCompleted, tp.Now())
		require.NoError(t, err)
		v2, err := repo.UpdateIfVersion(ctx, first, v1)
		require.NoError(t, err)
		assert.Equal(t, v1+1, v2)

		// The stale reader loses.
		_, err = second.ApplyJobResult(b.ID, model.JobStatusFailed, tp.Now())
		require.NoError(t, err)
		_, err = repo.UpdateIfVersion(ctx, second, v1)
		require.Error(t, err)
		assert.True(t, apperrors.IsVersionConflict(err))

		// Re-read and re-apply wins.
		fresh, v, err := repo.Get(ctx, batch.ID)
		require.NoError(t, err)
		_, err = fresh.ApplyJobResult(b.ID, model.JobStatusFailed, tp.Now())
		require.NoError(t, err)
		_, err = repo.UpdateIfVersion(ctx, fresh, v)
		require.NoError(t, err)

		final, _, err := repo.Get(ctx, batch.ID)
		require.NoError(t, err)
		assert.Equal(t, model.BatchStatusCompleted, final.Status)
		assert.Equal(t, 1, final.CompletedJobs)
		assert.Equal(t, 1, final.FailedJobs)
		require.NotNil(t, final.CompletedAt)
	})
}

func TestBatchRepo_CountsCheckConstraint(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		jobs, tp := newTestJobRepo(db)
		repo := NewBatchRepo(db, tp)
		ctx := context.Background()

		batch := createBatchOf(t, jobs, testutil.NewJob().Build())
		stored, v, err := repo.Get(ctx, batch.ID)
		require.NoError(t, err)

		stored.CompletedJobs = 2
		_, err = repo.UpdateIfVersion(ctx, stored, v)
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err), "check violation maps to validation: %v", err)
	})
}

func TestBatchRepo_NotFound(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewBatchRepo(db, nil)
		ctx := context.Background()

		_, _, err := repo.Get(ctx, uuid.NewString())
		require.ErrorIs(t, err, model.ErrBatchNotFound)

		_, err = repo.UpdateIfVersion(ctx, &model.Batch{ID: uuid.NewString()}, 1)
		require.ErrorIs(t, err, model.ErrBatchNotFound)
	})
}
