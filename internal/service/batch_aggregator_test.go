package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/bms-ingest/internal/domain/model"
	apperrors "github.com/target/bms-ingest/internal/errors"
	"github.com/target/bms-ingest/internal/mocks"
	"github.com/target/bms-ingest/internal/testutil"
)

func terminal(job *model.Job, status model.JobStatus) *model.Job {
	cp := *job
	cp.Status = status
	return &cp
}

func TestBatchAggregator_UpdateBatchJob(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()

	a := testutil.NewJob().WithID("job-a").Build()
	b := testutil.NewJob().WithID("job-b").Build()
	batch := f.seedBatch(t, a, b)

	require.NoError(t, f.aggregator.UpdateBatchJob(ctx, batch.ID, terminal(a, model.JobStatusCompleted)))
	got, version := f.store.Batch(batch.ID)
	assert.Equal(t, int64(2), version)
	assert.Equal(t, 1, got.CompletedJobs)
	assert.Equal(t, model.BatchStatusProcessing, got.Status)
	assert.Nil(t, got.CompletedAt)

	require.NoError(t, f.aggregator.UpdateBatchJob(ctx, batch.ID, terminal(b, model.JobStatusFailed)))
	got, _ = f.store.Batch(batch.ID)
	assert.Equal(t, 1, got.CompletedJobs)
	assert.Equal(t, 1, got.FailedJobs)
	assert.Equal(t, model.BatchStatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, testutil.TestTime(), *got.CompletedAt)

	assert.Equal(t, 2.0, f.metrics.Sum("batch.update", map[string]string{"outcome": batchOutcomeApplied}))
}

func TestBatchAggregator_RepeatedNotificationIsNoop(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()

	a := testutil.NewJob().WithID("job-a").Build()
	b := testutil.NewJob().WithID("job-b").Build()
	batch := f.seedBatch(t, a, b)

	done := terminal(a, model.JobStatusCompleted)
	require.NoError(t, f.aggregator.UpdateBatchJob(ctx, batch.ID, done))
	require.NoError(t, f.aggregator.UpdateBatchJob(ctx, batch.ID, done))
	// A late conflicting status for an already settled entry changes nothing.
	require.NoError(t, f.aggregator.UpdateBatchJob(ctx, batch.ID, terminal(a, model.JobStatusFailed)))

	got, version := f.store.Batch(batch.ID)
	assert.Equal(t, int64(2), version, "noop notifications never write")
	assert.Equal(t, 1, got.CompletedJobs)
	assert.Zero(t, got.FailedJobs)
	assert.Equal(t, 2.0, f.metrics.Sum("batch.update", map[string]string{"outcome": batchOutcomeNoop}))
}

func TestBatchAggregator_ConcurrentUpdatesConverge(t *testing.T) {
	const n = 12
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()

	// A writer can only lose to another writer that succeeded, so n attempts
	// always suffice.
	agg, err := NewBatchAggregator(BatchAggregatorOptions{
		Batches: f.store.Batches(),
		Jobs:    f.store.Jobs(),
		Config:  BatchAggregatorConfig{ConflictAttempts: n, StoreRetry: fastRetry, Sleep: noSleep},
		Logger:  slog.New(slog.DiscardHandler),
		Now:     f.clock.Now,
	})
	require.NoError(t, err)

	jobs := make([]*model.Job, n)
	for i := range jobs {
		jobs[i] = testutil.NewJob().WithID(fmt.Sprintf("job-%02d", i)).Build()
	}
	batch := f.seedBatch(t, jobs...)

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i, j := range jobs {
		status := model.JobStatusCompleted
		if i%3 == 0 {
			status = model.JobStatusFailed
		}
		wg.Add(1)
		go func(job *model.Job) {
			defer wg.Done()
			errs <- agg.UpdateBatchJob(ctx, batch.ID, job)
		}(terminal(j, status))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, version := f.store.Batch(batch.ID)
	assert.Equal(t, int64(n+1), version, "every notification lands exactly once")
	assert.Equal(t, 8, got.CompletedJobs)
	assert.Equal(t, 4, got.FailedJobs)
	assert.Equal(t, n, got.Settled())
	assert.Equal(t, model.BatchStatusCompleted, got.Status)
}

func TestBatchAggregator_RetriesVersionConflict(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()

	a := testutil.NewJob().WithID("job-a").Build()
	batch := f.seedBatch(t, a)
	f.store.FailNext("batches.update", apperrors.VersionConflict("lost race"))

	require.NoError(t, f.aggregator.UpdateBatchJob(ctx, batch.ID, terminal(a, model.JobStatusCompleted)))
	assert.Equal(t, 2, f.store.Calls("batches.get"), "the batch is re-read after a lost race")

	got, _ := f.store.Batch(batch.ID)
	assert.Equal(t, model.BatchStatusCompleted, got.Status)
}

func TestBatchAggregator_RereadsAfterLostCompareAndSwap(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	batches := mocks.NewMockBatchRepository(gomock.NewController(t))
	f.aggregator.batches = batches

	a := testutil.NewJob().WithID("job-a").Build()
	b := testutil.NewJob().WithID("job-b").Build()
	stale := testutil.BatchOf(a, b)
	fresh := stale.Clone()
	_, err := fresh.ApplyJobResult("job-b", model.JobStatusFailed, testutil.TestTime())
	require.NoError(t, err)

	gomock.InOrder(
		batches.EXPECT().Get(gomock.Any(), stale.ID).Return(stale.Clone(), int64(1), nil),
		batches.EXPECT().
			UpdateIfVersion(gomock.Any(), gomock.Any(), int64(1)).
			Return(int64(0), apperrors.VersionConflict("lost race")),
		batches.EXPECT().Get(gomock.Any(), stale.ID).Return(fresh.Clone(), int64(2), nil),
		batches.EXPECT().
			UpdateIfVersion(gomock.Any(), gomock.Any(), int64(2)).
			DoAndReturn(func(_ context.Context, got *model.Batch, _ int64) (int64, error) {
				assert.Equal(t, 1, got.CompletedJobs)
				assert.Equal(t, 1, got.FailedJobs, "the concurrent failure is kept")
				assert.Equal(t, model.BatchStatusCompleted, got.Status)
				return 3, nil
			}),
	)

	require.NoError(t, f.aggregator.UpdateBatchJob(ctx, stale.ID, terminal(a, model.JobStatusCompleted)))
	assert.Equal(t, 1.0, f.metrics.Sum("batch.update", map[string]string{"outcome": batchOutcomeApplied}))
}

func TestBatchAggregator_ConflictExhaustionIsSwallowed(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()

	a := testutil.NewJob().WithID("job-a").Build()
	batch := f.seedBatch(t, a)
	conflict := apperrors.VersionConflict("lost race")
	f.store.FailNext("batches.update", conflict, conflict, conflict)

	require.NoError(t, f.aggregator.UpdateBatchJob(ctx, batch.ID, terminal(a, model.JobStatusCompleted)))

	got, version := f.store.Batch(batch.ID)
	assert.Equal(t, int64(1), version)
	assert.Zero(t, got.Settled(), "abandoned updates are left for reconcile")
	assert.Equal(t, 1.0, f.metrics.Sum("batch.update", map[string]string{"outcome": batchOutcomeAbandoned}))
}

func TestBatchAggregator_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown batch", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{})
		job := terminal(testutil.NewJob().WithID("job-a").Build(), model.JobStatusCompleted)
		err := f.aggregator.UpdateBatchJob(ctx, "missing", job)
		require.ErrorIs(t, err, model.ErrBatchNotFound)
	})

	t.Run("job not listed in batch", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{})
		batch := f.seedBatch(t, testutil.NewJob().WithID("job-a").Build())
		stranger := terminal(testutil.NewJob().WithID("job-z").Build(), model.JobStatusFailed)
		err := f.aggregator.UpdateBatchJob(ctx, batch.ID, stranger)
		require.ErrorIs(t, err, model.ErrBatchJobNotFound)
	})

	t.Run("non-terminal status", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{})
		a := testutil.NewJob().WithID("job-a").Build()
		batch := f.seedBatch(t, a)
		err := f.aggregator.UpdateBatchJob(ctx, batch.ID, terminal(a, model.JobStatusProcessing))
		require.Error(t, err)
		assert.Equal(t, 0, f.store.Calls("batches.get"))
	})

	t.Run("store failure surfaces", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{})
		a := testutil.NewJob().WithID("job-a").Build()
		batch := f.seedBatch(t, a)
		f.store.FailNext("batches.get", errors.New("syntax error"))
		err := f.aggregator.UpdateBatchJob(ctx, batch.ID, terminal(a, model.JobStatusCompleted))
		require.ErrorContains(t, err, "syntax error")
		assert.Equal(t, 1.0, f.metrics.Sum("batch.update", map[string]string{"outcome": batchOutcomeError}))
	})

	t.Run("empty batch id is ignored", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{})
		require.NoError(t, f.aggregator.UpdateBatchJob(ctx, "", &model.Job{ID: "x", Status: model.JobStatusFailed}))
	})
}

func TestBatchAggregator_Reconcile(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	repo := f.store.Jobs()

	a := testutil.NewJob().WithID("job-a").Build()
	b := testutil.NewJob().WithID("job-b").Build()
	c := testutil.NewJob().WithID("job-c").Build()
	batch := f.seedBatch(t, a, b, c)

	// Transition rows without telling the aggregator.
	_, err := repo.Claim(ctx, a.ID)
	require.NoError(t, err)
	ok, err := repo.Complete(ctx, testCompleteParams(a))
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = repo.Fail(ctx, testFailParams(b))
	require.NoError(t, err)
	require.True(t, ok)

	got, err := f.aggregator.Reconcile(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CompletedJobs)
	assert.Equal(t, 1, got.FailedJobs)
	assert.Equal(t, model.BatchStatusProcessing, got.Status)

	ok, err = repo.Fail(ctx, testFailParams(c))
	require.NoError(t, err)
	require.True(t, ok)

	got, err = f.aggregator.Reconcile(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, got.Status)
	assert.Equal(t, 2, got.FailedJobs)

	stored, _ := f.store.Batch(batch.ID)
	assert.Equal(t, got, stored)

	_, err = f.aggregator.Reconcile(ctx, "missing")
	require.ErrorIs(t, err, model.ErrBatchNotFound)
}
