package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/target/bms-ingest/internal/breaker"
	"github.com/target/bms-ingest/internal/core"
	"github.com/target/bms-ingest/internal/dedupe"
	"github.com/target/bms-ingest/internal/domain/model"
	"github.com/target/bms-ingest/internal/queue"
	"github.com/target/bms-ingest/internal/retry"
	"github.com/target/bms-ingest/internal/service"
	"github.com/target/bms-ingest/internal/testutil"
)

var fastRetry = retry.Policy{Sleep: func(context.Context, time.Duration) error { return nil }}

type apiFixture struct {
	store    *testutil.MemStore
	queue    *queue.Local
	breakers *breaker.Registry
	handler  http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	f := &apiFixture{
		store: testutil.NewMemStore(testutil.TestTime),
		queue: queue.NewLocal(64),
	}
	t.Cleanup(func() { _ = f.queue.Close() })
	f.breakers = breaker.NewRegistry(breaker.Options{Threshold: 2, Now: testutil.TestTime, Logger: logger})

	aggregator, err := service.NewBatchAggregator(service.BatchAggregatorOptions{
		Batches: f.store.Batches(),
		Jobs:    f.store.Jobs(),
		Config:  service.BatchAggregatorConfig{StoreRetry: fastRetry},
		Logger:  logger,
		Now:     testutil.TestTime,
	})
	require.NoError(t, err)

	detector := dedupe.NewDetector(dedupe.Options{
		History:  f.store.Records(),
		Feedback: f.store.Feedback(),
		Retry:    fastRetry,
		Logger:   logger,
	})
	dispatcher, err := service.NewDispatcher(service.DispatcherOptions{
		Jobs:       f.store.Jobs(),
		Detector:   detector,
		Producer:   f.queue,
		Breakers:   f.breakers,
		Notifier:   aggregator,
		StoreRetry: fastRetry,
		Logger:     logger,
		Now:        testutil.TestTime,
	})
	require.NoError(t, err)

	jobs, err := service.NewJobService(service.JobServiceOptions{
		Jobs:     f.store.Jobs(),
		Batches:  f.store.Batches(),
		Producer: f.queue,
		Breakers: f.breakers,
		Config:   service.JobServiceConfig{StoreRetry: fastRetry},
		Logger:   logger,
		Now:      testutil.TestTime,
	})
	require.NoError(t, err)

	feedback, err := service.NewFeedbackService(service.FeedbackServiceOptions{
		Repo:       f.store.Feedback(),
		Detector:   detector,
		StoreRetry: fastRetry,
		Logger:     logger,
		Now:        testutil.TestTime,
	})
	require.NoError(t, err)

	f.handler = NewRouter(RouterServices{
		Dispatcher: dispatcher,
		Jobs:       jobs,
		Aggregator: aggregator,
		Feedback:   feedback,
		Breakers:   f.breakers,
		Logger:     logger,
	})
	return f
}

// seedBatch stores jobs and a batch over them.
func (f *apiFixture) seedBatch(t *testing.T, jobs ...*model.Job) *model.Batch {
	t.Helper()
	batch := testutil.BatchOf(jobs...)
	err := f.store.Jobs().CreateBatch(context.Background(), core.CreateBatchParams{Batch: batch, Jobs: jobs})
	require.NoError(t, err)
	return batch
}

func (f *apiFixture) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out), rec.Body.String())
	return out
}
