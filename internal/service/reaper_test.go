package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/bms-ingest/config"
	"github.com/target/bms-ingest/internal/core"
	"github.com/target/bms-ingest/internal/domain/model"
	"github.com/target/bms-ingest/internal/mocks"
	"github.com/target/bms-ingest/internal/observability/metrics"
	"github.com/target/bms-ingest/internal/testutil"
)

func testReaperConfig() config.ReaperConfig {
	return config.ReaperConfig{
		Interval:         time.Minute,
		ProcessingMaxAge: 10 * time.Minute,
		QueuedMaxAge:     time.Hour,
		PayloadMaxAge:    30 * time.Minute,
		BatchSize:        2,
	}
}

func TestReaperService_RunOnce(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	repo := f.store.Jobs()

	stalled := testutil.NewJob().WithID("stalled").WithRetryCount(1).Build()
	spent := testutil.NewJob().WithID("spent").WithRetryCount(model.MaxRetryCount).Build()
	lost := testutil.NewJob().WithID("lost").Build()
	batch := f.seedBatch(t, stalled, spent, lost)
	for _, id := range []string{"stalled", "spent"} {
		_, err := repo.Claim(ctx, id)
		require.NoError(t, err)
	}

	done := testutil.NewJob().WithID("done").WithStatus(model.JobStatusCompleted).Build()
	completedAt := testutil.TestTime()
	done.CompletedAt = &completedAt
	f.store.PutJob(done)

	f.clock.Advance(2 * time.Hour)

	svc, err := NewReaperService(ReaperServiceOptions{
		Repo:       repo,
		Config:     testReaperConfig(),
		Notifier:   f.aggregator,
		MaxRetries: model.MaxRetryCount,
		Logger:     f.logger,
		Metrics:    f.metrics,
		Now:        f.clock.Now,
	})
	require.NoError(t, err)
	require.NoError(t, svc.RunOnce(ctx))

	got := f.store.Job("stalled")
	assert.Equal(t, model.JobStatusQueued, got.Status)
	assert.Equal(t, 2, got.RetryCount)
	require.NotNil(t, got.NextRetryAt, "requeued jobs are handed to the retry sweeper")

	got = f.store.Job("spent")
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Equal(t, model.MaxRetryCount, got.RetryCount)

	got = f.store.Job("lost")
	assert.Equal(t, model.JobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "never dispatched", *got.Error)

	got = f.store.Job("done")
	assert.True(t, got.PayloadStripped)
	payload, err := got.DecodePayload()
	require.NoError(t, err)
	assert.Empty(t, payload.Data)

	b, _ := f.store.Batch(batch.ID)
	assert.Equal(t, 2, b.FailedJobs, "reaped failures reach the batch")
	assert.Equal(t, model.BatchStatusProcessing, b.Status)

	processed := func(op string) float64 {
		return f.metrics.Sum("reaper.jobs_processed", map[string]string{"operation": op})
	}
	assert.Equal(t, 2.0, processed("requeue_processing"))
	assert.Equal(t, 1.0, processed("fail_queued"))
	assert.Equal(t, 1.0, processed("strip_payloads"))
	assert.Equal(t, 1.0, f.metrics.Sum("reaper.cleanup", map[string]string{"result": metrics.ResultSuccess}))

	// The requeued job finishes on the retry path and settles the batch.
	n, err := f.jobs.EnqueueDueRetries(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	_, err = f.worker.Process(ctx, "stalled")
	require.NoError(t, err)
	b, _ = f.store.Batch(batch.ID)
	assert.Equal(t, model.BatchStatusCompleted, b.Status)
	assert.Equal(t, 1, b.CompletedJobs)

	// A second pass finds nothing new.
	f.metrics.Reset()
	require.NoError(t, svc.RunOnce(ctx))
	assert.Equal(t, 1.0, f.metrics.Sum("reaper.cleanup", map[string]string{"result": metrics.ResultNoop}))
}

func TestReaperService_BatchesUntilDrained(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockReaperRepository(ctrl)
	notifier := mocks.NewMockBatchNotifier(ctrl)
	cfg := testReaperConfig()

	batchID := "batch-1"
	gomock.InOrder(
		repo.EXPECT().RequeueStaleProcessing(gomock.Any(), core.RequeueStaleParams{
			MaxAge: cfg.ProcessingMaxAge, MaxRetries: 3, BatchSize: 2,
		}).Return(core.StaleProcessingResult{Requeued: 2}, nil),
		repo.EXPECT().RequeueStaleProcessing(gomock.Any(), gomock.Any()).
			Return(core.StaleProcessingResult{Failed: []model.JobRef{{ID: "j1", BatchID: &batchID, Status: model.JobStatusFailed}}}, nil),
		repo.EXPECT().FailStaleQueuedJobs(gomock.Any(), cfg.QueuedMaxAge, 2).Return([]model.JobRef{
			{ID: "j2", BatchID: &batchID, Status: model.JobStatusFailed},
			{ID: "j3", Status: model.JobStatusFailed},
		}, nil),
		repo.EXPECT().FailStaleQueuedJobs(gomock.Any(), cfg.QueuedMaxAge, 2).Return(nil, nil),
		repo.EXPECT().StripTerminalPayloads(gomock.Any(), cfg.PayloadMaxAge, 2).Return(int64(2), nil),
		repo.EXPECT().StripTerminalPayloads(gomock.Any(), cfg.PayloadMaxAge, 2).Return(int64(0), nil),
	)
	notifier.EXPECT().UpdateBatchJob(gomock.Any(), batchID, &model.Job{ID: "j1", BatchID: &batchID, Status: model.JobStatusFailed}).Return(nil)
	notifier.EXPECT().UpdateBatchJob(gomock.Any(), batchID, &model.Job{ID: "j2", BatchID: &batchID, Status: model.JobStatusFailed}).Return(errors.New("conflict storm"))

	svc, err := NewReaperService(ReaperServiceOptions{
		Repo:       repo,
		Config:     cfg,
		Notifier:   notifier,
		MaxRetries: 3,
		Logger:     slog.New(slog.DiscardHandler),
	})
	require.NoError(t, err)
	require.NoError(t, svc.RunOnce(context.Background()), "notification failures are logged, not returned")
}

func TestReaperService_StepErrors(t *testing.T) {
	cfg := testReaperConfig()

	t.Run("a failing step does not stop the others", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		repo := mocks.NewMockReaperRepository(ctrl)
		sink := &metrics.CaptureSink{}

		repo.EXPECT().RequeueStaleProcessing(gomock.Any(), gomock.Any()).Return(core.StaleProcessingResult{}, errors.New("deadlock detected"))
		repo.EXPECT().FailStaleQueuedJobs(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil)
		repo.EXPECT().StripTerminalPayloads(gomock.Any(), gomock.Any(), gomock.Any()).Return(int64(1), nil)
		repo.EXPECT().StripTerminalPayloads(gomock.Any(), gomock.Any(), gomock.Any()).Return(int64(0), nil)

		svc, err := NewReaperService(ReaperServiceOptions{Repo: repo, Config: cfg, Metrics: sink})
		require.NoError(t, err)

		err = svc.RunOnce(context.Background())
		require.ErrorContains(t, err, "requeue stale processing jobs: deadlock detected")
		assert.Equal(t, 1.0, sink.Sum("reaper.cleanup", map[string]string{"result": metrics.ResultError}))
		assert.Equal(t, 1.0, sink.Sum("reaper.cleanup_operation", map[string]string{"operation": "requeue_processing", "result": metrics.ResultError}))
		assert.Equal(t, 1.0, sink.Sum("reaper.jobs_processed", map[string]string{"operation": "strip_payloads"}))
		assert.Zero(t, sink.Sum("reaper.last_success_epoch", nil))
	})

	t.Run("cancellation is reported as canceled", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		repo := mocks.NewMockReaperRepository(ctrl)
		repo.EXPECT().RequeueStaleProcessing(gomock.Any(), gomock.Any()).Return(core.StaleProcessingResult{}, context.Canceled)
		repo.EXPECT().FailStaleQueuedJobs(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, context.Canceled)
		repo.EXPECT().StripTerminalPayloads(gomock.Any(), gomock.Any(), gomock.Any()).Return(int64(0), context.Canceled)

		svc, err := NewReaperService(ReaperServiceOptions{Repo: repo, Config: cfg})
		require.NoError(t, err)
		require.ErrorIs(t, svc.RunOnce(context.Background()), context.Canceled)
	})
}

func TestReaperService_RunStopsOnCancel(t *testing.T) {
	store := testutil.NewMemStore(testutil.TestTime)
	cfg := testReaperConfig()
	cfg.Interval = 10 * time.Millisecond

	svc, err := NewReaperService(ReaperServiceOptions{Repo: store.Jobs(), Config: cfg})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool {
		return store.Calls("reaper.strip_payloads") >= 2
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}

func TestNewReaperService_Validation(t *testing.T) {
	_, err := NewReaperService(ReaperServiceOptions{Config: testReaperConfig()})
	require.Error(t, err)

	store := testutil.NewMemStore(testutil.TestTime)
	_, err = NewReaperService(ReaperServiceOptions{Repo: store.Jobs()})
	require.ErrorContains(t, err, "interval")
}
