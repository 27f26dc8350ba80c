package httpx

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/bms-ingest/internal/breaker"
	"github.com/target/bms-ingest/internal/core"
	"github.com/target/bms-ingest/internal/domain/model"
	"github.com/target/bms-ingest/internal/service"
	"github.com/target/bms-ingest/internal/testutil"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func TestAnalyze(t *testing.T) {
	t.Run("accepted with batch id", func(t *testing.T) {
		f := newAPIFixture(t)

		rec := f.do(t, http.MethodPost, "/api/analyze", testutil.AnalyzeRequestOf("a/Panel_A.png", "b/panel_a.png", "c.png"))
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

		resp := decodeBody[model.DispatchResponse](t, rec)
		require.NotEmpty(t, resp.BatchID)
		assert.Equal(t, 2, resp.Submitted)
		require.Len(t, resp.Results, 3)
		assert.Equal(t, model.DispatchDuplicateBatch, resp.Results[1].Status)
		assert.Equal(t, 2, f.queue.Len())
	})

	t.Run("all duplicates returns 200 without a batch", func(t *testing.T) {
		f := newAPIFixture(t)
		f.store.PutRecord(&model.AnalysisRecord{ID: "rec-1", FileName: "c.png", Basename: "c.png"})

		rec := f.do(t, http.MethodPost, "/api/analyze", testutil.AnalyzeRequestOf("c.png"))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		resp := decodeBody[model.DispatchResponse](t, rec)
		assert.Empty(t, resp.BatchID)
		assert.Zero(t, resp.Submitted)
		assert.Equal(t, model.DispatchDuplicateHistory, resp.Results[0].Status)
		assert.Equal(t, "rec-1", resp.Results[0].RecordID)
	})

	tests := []struct {
		name     string
		method   string
		body     any
		wantCode int
		wantErr  string
	}{
		{name: "malformed json", method: http.MethodPost, body: "{bad", wantCode: http.StatusBadRequest, wantErr: "invalid_json"},
		{name: "unknown field", method: http.MethodPost, body: `{"pictures":[]}`, wantCode: http.StatusBadRequest, wantErr: "invalid_json"},
		{name: "no images", method: http.MethodPost, body: `{"images":[]}`, wantCode: http.StatusBadRequest, wantErr: "invalid_request"},
		{
			name:     "missing file name",
			method:   http.MethodPost,
			body:     `{"images":[{"data":"aGk="}]}`,
			wantCode: http.StatusBadRequest,
			wantErr:  "invalid_request",
		},
		{name: "wrong method", method: http.MethodGet, wantCode: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t)
			rec := f.do(t, tt.method, "/api/analyze", tt.body)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantErr != "" {
				assert.Equal(t, tt.wantErr, decodeBody[errorBody](t, rec).Error)
			}
			assert.Zero(t, f.queue.Len())
		})
	}

	t.Run("open global breaker fails the jobs but accepts the batch", func(t *testing.T) {
		f := newAPIFixture(t)
		ctx := context.Background()
		require.NoError(t, f.breakers.RecordFailure(ctx, breaker.GlobalKey))
		require.NoError(t, f.breakers.RecordFailure(ctx, breaker.GlobalKey))

		rec := f.do(t, http.MethodPost, "/api/analyze", testutil.AnalyzeRequestOf("a.png"))
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
		assert.Zero(t, f.queue.Len())

		resp := decodeBody[model.DispatchResponse](t, rec)
		assert.Equal(t, 1, resp.Submitted)
		job := f.store.Job(resp.Results[0].JobID)
		require.NotNil(t, job)
		assert.Equal(t, model.JobStatusFailed, job.Status)
		require.NotNil(t, job.Error)
		assert.Contains(t, *job.Error, "circuit open")
	})
}

func TestProcessAnalysis(t *testing.T) {
	tests := []struct {
		name     string
		status   model.JobStatus
		body     func(jobID string) string
		wantCode int
		wantErr  string
	}{
		{
			name:     "queued job is kicked off",
			status:   model.JobStatusQueued,
			body:     func(id string) string { return `{"jobId":"` + id + `"}` },
			wantCode: http.StatusAccepted,
		},
		{
			name:     "unknown job",
			status:   model.JobStatusQueued,
			body:     func(string) string { return `{"jobId":"missing"}` },
			wantCode: http.StatusNotFound,
			wantErr:  "not_found",
		},
		{
			name:     "job already processing",
			status:   model.JobStatusProcessing,
			body:     func(id string) string { return `{"jobId":"` + id + `"}` },
			wantCode: http.StatusConflict,
			wantErr:  "job_not_queued",
		},
		{
			name:     "missing job id",
			status:   model.JobStatusQueued,
			body:     func(string) string { return `{"jobId":" "}` },
			wantCode: http.StatusBadRequest,
			wantErr:  "invalid_request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t)
			job := testutil.NewJob().WithStatus(tt.status).Build()
			f.seedBatch(t, job)

			rec := f.do(t, http.MethodPost, "/api/process-analysis", tt.body(job.ID))
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantErr != "" {
				assert.Equal(t, tt.wantErr, decodeBody[errorBody](t, rec).Error)
				assert.Zero(t, f.queue.Len())
				return
			}
			res := decodeBody[service.KickoffResult](t, rec)
			assert.Equal(t, job.ID, res.JobID)
			assert.True(t, res.Enqueued)
			assert.Equal(t, 1, f.queue.Len())
		})
	}

	t.Run("enqueue failure is a server error", func(t *testing.T) {
		f := newAPIFixture(t)
		job := testutil.NewJob().Build()
		f.seedBatch(t, job)
		require.NoError(t, f.queue.Close())

		rec := f.do(t, http.MethodPost, "/api/process-analysis", `{"jobId":"`+job.ID+`"}`)
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "internal server error", decodeBody[errorBody](t, rec).Message)
	})
}

func TestAnalyzeStatus(t *testing.T) {
	f := newAPIFixture(t)
	job := testutil.NewJob().WithFileName("panel.png").Build()
	batch := f.seedBatch(t, job)

	t.Run("by batch id", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/analyze/status?batchId="+batch.ID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		got := decodeBody[model.Batch](t, rec)
		assert.Equal(t, batch.ID, got.ID)
		assert.Equal(t, 1, got.TotalJobs)
		assert.Equal(t, model.BatchStatusProcessing, got.Status)
	})

	t.Run("by job id", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/analyze/status?jobId="+job.ID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		got := decodeBody[model.Job](t, rec)
		assert.Equal(t, job.ID, got.ID)
		assert.Equal(t, "panel.png", got.FileName)
		assertNoImagePayload(t, rec.Body.String())
	})

	tests := []struct {
		name     string
		query    string
		wantCode int
	}{
		{"neither id", "", http.StatusBadRequest},
		{"unknown batch", "?batchId=nope", http.StatusNotFound},
		{"unknown job", "?jobId=nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, "/api/analyze/status"+tt.query, nil)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
		})
	}
}

// assertNoImagePayload checks that a response body carries no image bytes.
func assertNoImagePayload(t *testing.T, body string) {
	t.Helper()
	assert.NotContains(t, body, `"payload":`)
	assert.NotContains(t, body, testutil.SampleImageData)
}

func TestJobAndBatchRoutes(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	a := testutil.NewJob().WithFileName("a.png").Build()
	b := testutil.NewJob().WithFileName("b.png").Build()
	batch := f.seedBatch(t, a, b)

	t.Run("get job", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/jobs/"+a.ID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assertNoImagePayload(t, rec.Body.String())
		assert.Equal(t, a.ID, decodeBody[model.Job](t, rec).ID)
	})

	t.Run("get batch", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/batches/"+batch.ID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decodeBody[model.Batch](t, rec).Jobs, 2)
	})

	t.Run("list batch jobs", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/batches/"+batch.ID+"/jobs", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assertNoImagePayload(t, rec.Body.String())
		got := decodeBody[struct {
			BatchID string       `json:"batchId"`
			Jobs    []*model.Job `json:"jobs"`
		}](t, rec)
		assert.Equal(t, batch.ID, got.BatchID)
		require.Len(t, got.Jobs, 2)
		assert.Equal(t, a.ID, got.Jobs[0].ID)
	})

	t.Run("reconcile rebuilds counters from jobs", func(t *testing.T) {
		for _, j := range []*model.Job{a, b} {
			_, err := f.store.Jobs().Claim(ctx, j.ID)
			require.NoError(t, err)
			_, err = f.store.Jobs().Fail(ctx, core.FailJobParams{JobID: j.ID, Reason: "unreadable"})
			require.NoError(t, err)
		}

		rec := f.do(t, http.MethodPost, "/api/batches/"+batch.ID+"/reconcile", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		got := decodeBody[model.Batch](t, rec)
		assert.Equal(t, 2, got.FailedJobs)
		assert.Equal(t, model.BatchStatusCompleted, got.Status)
	})

	t.Run("unknown ids", func(t *testing.T) {
		for _, target := range []string{"/api/jobs/nope", "/api/batches/nope", "/api/batches/nope/jobs"} {
			rec := f.do(t, http.MethodGet, target, nil)
			assert.Equal(t, http.StatusNotFound, rec.Code, target)
		}
		rec := f.do(t, http.MethodPost, "/api/batches/nope/reconcile", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestFeedbackRoutes(t *testing.T) {
	f := newAPIFixture(t)
	const report = "Supply fan on AHU-2 trips on high static pressure every morning"

	rec := f.do(t, http.MethodPost, "/api/feedback", model.CreateFeedbackRequest{SystemID: "AHU-2", Content: report})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[model.Feedback](t, rec)
	assert.Equal(t, "general", created.Category)

	t.Run("exact repeat is a conflict with the match", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/feedback", model.CreateFeedbackRequest{SystemID: "AHU-2", Content: report + "!"})
		require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
		got := decodeBody[duplicateBody](t, rec)
		assert.Equal(t, "duplicate", got.Error)
		assert.Equal(t, model.DuplicateExact, got.Match.Kind)
		assert.Equal(t, created.ID, got.Match.MatchID)
	})

	t.Run("validation", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/feedback", `{"systemId":"AHU-2","content":""}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("list", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/feedback?systemId=AHU-2", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		got := decodeBody[struct {
			Items []*model.Feedback `json:"items"`
		}](t, rec)
		require.Len(t, got.Items, 1)
		assert.Equal(t, created.ID, got.Items[0].ID)

		rec = f.do(t, http.MethodGet, "/api/feedback", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestBreakerRoutes(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	vision := breaker.ToolKey("vision")
	require.NoError(t, f.breakers.RecordFailure(ctx, vision))
	require.NoError(t, f.breakers.RecordFailure(ctx, vision))
	require.NoError(t, f.breakers.RecordFailure(ctx, breaker.GlobalKey))

	rec := f.do(t, http.MethodGet, "/api/admin/breakers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decodeBody[struct {
		Threshold int                  `json:"threshold"`
		Breakers  []model.BreakerState `json:"breakers"`
	}](t, rec)
	assert.Equal(t, 2, listed.Threshold)
	assert.Len(t, listed.Breakers, 2)

	rec = f.do(t, http.MethodPost, "/api/admin/breakers/reset", `{"key":"`+vision+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[model.BreakerResetResult](t, rec)
	assert.Equal(t, vision, res.Key)
	assert.True(t, res.WasOpen)

	open, err := f.breakers.IsOpen(ctx, vision)
	require.NoError(t, err)
	assert.False(t, open)

	rec = f.do(t, http.MethodPost, "/api/admin/breakers/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	all := decodeBody[struct {
		Reset []model.BreakerResetResult `json:"reset"`
	}](t, rec)
	require.Len(t, all.Reset, 1)
	assert.Equal(t, breaker.GlobalKey, all.Reset[0].Key)
	assert.False(t, all.Reset[0].WasOpen, "one failure below threshold leaves the breaker closed")

	rec = f.do(t, http.MethodPost, "/api/admin/breakers/reset", "{bad")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
