package service

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/target/bms-ingest/internal/breaker"
	"github.com/target/bms-ingest/internal/core"
	"github.com/target/bms-ingest/internal/dedupe"
	"github.com/target/bms-ingest/internal/domain/model"
	"github.com/target/bms-ingest/internal/observability/metrics"
	"github.com/target/bms-ingest/internal/queue"
	"github.com/target/bms-ingest/internal/retry"
	"github.com/target/bms-ingest/internal/testutil"
)

// testClock is a settable clock shared by every component of a fixture.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock { return &testClock{now: testutil.TestTime()} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeProvider answers Analyze with fn, counting calls.
type fakeProvider struct {
	name  string
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, req *model.AnalysisRequest) (*model.AnalysisResult, error)
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Analyze(ctx context.Context, req *model.AnalysisRequest) (*model.AnalysisResult, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.fn == nil {
		return &model.AnalysisResult{Provider: p.name, Data: []byte(`{"ok":true}`)}, nil
	}
	return p.fn(ctx, req)
}

func (p *fakeProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// noSleep skips backoff waits.
func noSleep(context.Context, time.Duration) error { return nil }

var fastRetry = retry.Policy{Sleep: noSleep}

type fixtureOptions struct {
	breakerThreshold int
	maxRetries       int
	queueBuffer      int
}

type fixture struct {
	clock      *testClock
	store      *testutil.MemStore
	queue      *queue.Local
	breakers   *breaker.Registry
	provider   *fakeProvider
	metrics    *metrics.CaptureSink
	aggregator *BatchAggregator
	dispatcher *Dispatcher
	worker     *Worker
	jobs       *JobService
	logger     *slog.Logger
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()
	if opts.breakerThreshold == 0 {
		opts.breakerThreshold = 5
	}
	if opts.maxRetries == 0 {
		opts.maxRetries = model.MaxRetryCount
	}
	if opts.queueBuffer == 0 {
		opts.queueBuffer = 64
	}

	f := &fixture{
		clock:    newTestClock(),
		queue:    queue.NewLocal(opts.queueBuffer),
		provider: &fakeProvider{name: "vision"},
		metrics:  &metrics.CaptureSink{},
		logger:   slog.New(slog.DiscardHandler),
	}
	t.Cleanup(func() { _ = f.queue.Close() })
	f.store = testutil.NewMemStore(f.clock.Now)
	f.breakers = breaker.NewRegistry(breaker.Options{
		Threshold: opts.breakerThreshold,
		Cooldown:  30 * time.Second,
		Now:       f.clock.Now,
		Logger:    f.logger,
		Metrics:   f.metrics,
	})

	var err error
	f.aggregator, err = NewBatchAggregator(BatchAggregatorOptions{
		Batches: f.store.Batches(),
		Jobs:    f.store.Jobs(),
		Config:  BatchAggregatorConfig{StoreRetry: fastRetry, Sleep: noSleep},
		Logger:  f.logger,
		Metrics: f.metrics,
		Now:     f.clock.Now,
	})
	require.NoError(t, err)

	detector := dedupe.NewDetector(dedupe.Options{
		History:  f.store.Records(),
		Feedback: f.store.Feedback(),
		Retry:    fastRetry,
		Logger:   f.logger,
	})
	f.dispatcher, err = NewDispatcher(DispatcherOptions{
		Jobs:       f.store.Jobs(),
		Detector:   detector,
		Producer:   f.queue,
		Breakers:   f.breakers,
		Notifier:   f.aggregator,
		StoreRetry: fastRetry,
		Logger:     f.logger,
		Metrics:    f.metrics,
		Now:        f.clock.Now,
	})
	require.NoError(t, err)

	f.worker, err = NewWorker(WorkerOptions{
		Jobs:     f.store.Jobs(),
		Provider: f.provider,
		Breakers: f.breakers,
		Notifier: f.aggregator,
		Config: WorkerConfig{
			MaxRetryCount:   opts.maxRetries,
			ProviderTimeout: 5 * time.Second,
			ProviderRetry:   fastRetry,
			StoreRetry:      fastRetry,
		},
		Logger:  f.logger,
		Metrics: f.metrics,
		Now:     f.clock.Now,
	})
	require.NoError(t, err)

	f.jobs, err = NewJobService(JobServiceOptions{
		Jobs:     f.store.Jobs(),
		Batches:  f.store.Batches(),
		Producer: f.queue,
		Breakers: f.breakers,
		Config:   JobServiceConfig{StoreRetry: fastRetry},
		Logger:   f.logger,
		Metrics:  f.metrics,
		Now:      f.clock.Now,
	})
	require.NoError(t, err)
	return f
}

// seedBatch stores jobs and a batch over them.
func (f *fixture) seedBatch(t *testing.T, jobs ...*model.Job) *model.Batch {
	t.Helper()
	batch := testutil.BatchOf(jobs...)
	err := f.store.Jobs().CreateBatch(context.Background(), core.CreateBatchParams{Batch: batch, Jobs: jobs})
	require.NoError(t, err)
	return batch
}

func testCompleteParams(job *model.Job) core.CompleteJobParams {
	return core.CompleteJobParams{
		JobID: job.ID,
		Record: &model.AnalysisRecord{
			ID:       "rec-" + job.ID,
			JobID:    &job.ID,
			FileName: job.FileName,
			Basename: dedupe.NormalizeBasename(job.FileName),
			Result:   []byte(`{}`),
		},
	}
}

func testFailParams(job *model.Job) core.FailJobParams {
	return core.FailJobParams{JobID: job.ID, Reason: "bad image"}
}
