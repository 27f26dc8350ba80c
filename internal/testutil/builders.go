package testutil

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/target/bms-ingest/internal/dedupe"
	"github.com/target/bms-ingest/internal/domain/model"
)

// SampleImageData is a tiny base64 payload usable wherever image bytes are required.
var SampleImageData = base64.StdEncoding.EncodeToString([]byte("\x89PNG\r\n\x1a\nbms-test"))

// JobBuilder provides a fluent interface for building model.Job fixtures.
type JobBuilder struct {
	job *model.Job
}

// NewJob creates a JobBuilder for a queued, batchless job with a small PNG payload.
func NewJob() *JobBuilder {
	now := TestTime()
	b := &JobBuilder{
		job: &model.Job{
			ID:        uuid.NewString(),
			Status:    model.JobStatusQueued,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	return b.WithFileName("panel-01.png")
}

// WithID sets the job id.
func (b *JobBuilder) WithID(id string) *JobBuilder {
	b.job.ID = id
	return b
}

// WithBatch attaches the job to a batch.
func (b *JobBuilder) WithBatch(batchID string) *JobBuilder {
	b.job.BatchID = &batchID
	return b
}

// WithFileName sets the file name, basename and payload together.
func (b *JobBuilder) WithFileName(name string) *JobBuilder {
	b.job.FileName = name
	b.job.Basename = dedupe.NormalizeBasename(name)
	payload, _ := json.Marshal(model.ImagePayload{FileName: name, MimeType: "image/png", Data: SampleImageData})
	b.job.Payload = payload
	return b
}

// WithStatus sets the job status.
func (b *JobBuilder) WithStatus(status model.JobStatus) *JobBuilder {
	b.job.Status = status
	return b
}

// WithRetryCount sets the retry count.
func (b *JobBuilder) WithRetryCount(n int) *JobBuilder {
	b.job.RetryCount = n
	return b
}

// WithNextRetryAt sets the next retry time.
func (b *JobBuilder) WithNextRetryAt(at time.Time) *JobBuilder {
	b.job.NextRetryAt = &at
	return b
}

// WithContext sets the dispatch context passed to the provider.
func (b *JobBuilder) WithContext(raw string) *JobBuilder {
	b.job.Context = json.RawMessage(raw)
	return b
}

// WithForce marks the job as a forced reprocess.
func (b *JobBuilder) WithForce() *JobBuilder {
	b.job.Force = true
	return b
}

// Build returns the constructed job.
func (b *JobBuilder) Build() *model.Job {
	return b.job
}

// BatchOf builds a batch for jobs and points each job at it.
func BatchOf(jobs ...*model.Job) *model.Batch {
	id := uuid.NewString()
	for _, j := range jobs {
		j.BatchID = &id
	}
	return model.NewBatch(id, jobs, TestTime())
}

// AnalyzeRequestOf builds an analyze request with one PNG image per file name.
func AnalyzeRequestOf(fileNames ...string) *model.AnalyzeRequest {
	req := &model.AnalyzeRequest{}
	for _, name := range fileNames {
		req.Images = append(req.Images, model.AnalyzeImage{
			FileName: name,
			MimeType: "image/png",
			Data:     SampleImageData,
		})
	}
	return req
}
