package core

import (
	"context"
	"time"

	"github.com/target/bms-ingest/internal/domain/model"
)

// This file contains repository and adapter interface definitions (ports in hexagonal architecture).
// Service implementations depend on these interfaces, not on concrete implementations.

// CreateBatchParams groups the records written by a single dispatch.
// Batch is nil for a dispatch that created no batch.
type CreateBatchParams struct {
	Batch *model.Batch
	Jobs  []*model.Job
}

// CompleteJobParams carries the result persisted when a job completes.
type CompleteJobParams struct {
	JobID  string
	Record *model.AnalysisRecord
}

// FailJobParams groups parameters for JobRepository.Fail.
type FailJobParams struct {
	JobID  string
	Reason string
	// RetryCount is written when non-nil so exhausted jobs keep their final count.
	RetryCount *int
}

// RequeueJobParams groups parameters for JobRepository.Requeue.
type RequeueJobParams struct {
	JobID       string
	RetryCount  int
	NextRetryAt time.Time
	Reason      string
}

// ClaimDueRetriesParams groups parameters for JobRepository.ClaimDueRetries.
type ClaimDueRetriesParams struct {
	Now   time.Time
	Grace time.Duration
	Limit int
}

// JobRepository defines the interface for job data operations.
type JobRepository interface {
	// CreateBatch inserts the batch and all jobs atomically.
	CreateBatch(ctx context.Context, params CreateBatchParams) error
	// GetByID returns model.ErrJobNotFound when the job does not exist.
	GetByID(ctx context.Context, id string) (*model.Job, error)
	// Claim moves a Queued job to Processing; model.ErrJobNotClaimable otherwise.
	Claim(ctx context.Context, id string) (*model.Job, error)
	// Complete stores the analysis record and moves a Processing job to completed.
	Complete(ctx context.Context, params CompleteJobParams) (bool, error)
	// Fail moves a non-terminal job to failed.
	Fail(ctx context.Context, params FailJobParams) (bool, error)
	// Requeue moves a Processing job back to Queued with new retry metadata.
	Requeue(ctx context.Context, params RequeueJobParams) (bool, error)
	// Defer returns a Processing job to Queued without touching its retry count.
	// A Queued job keeps its status and only gets nextRetryAt.
	Defer(ctx context.Context, jobID string, nextRetryAt time.Time) (bool, error)
	// ClaimDueRetries returns Queued jobs whose nextRetryAt has passed and pushes
	// their nextRetryAt forward by Grace so each is handed out once per window.
	ClaimDueRetries(ctx context.Context, params ClaimDueRetriesParams) ([]*model.Job, error)
	ListByBatch(ctx context.Context, batchID string) ([]*model.Job, error)
	// StatusesByBatch returns the current status of every job in a batch.
	StatusesByBatch(ctx context.Context, batchID string) (map[string]model.JobStatus, error)
	// CountsByBatch aggregates a batch's jobs by status.
	CountsByBatch(ctx context.Context, batchID string) (model.JobStatusCounts, error)
}

// BatchRepository is the compare-and-swap port the batch aggregator is written against.
type BatchRepository interface {
	// Get returns the batch and the version token it was read at, or model.ErrBatchNotFound.
	Get(ctx context.Context, id string) (*model.Batch, int64, error)
	// UpdateIfVersion writes the batch only if its version still equals expected.
	// A lost race yields an apperrors version_conflict error. Returns the new version.
	UpdateIfVersion(ctx context.Context, batch *model.Batch, expected int64) (int64, error)
}

// AnalysisRecordRepository defines read access to previously analyzed records.
type AnalysisRecordRepository interface {
	GetByID(ctx context.Context, id string) (*model.AnalysisRecord, error)
	// FindByBasenames returns the newest record id per matching normalized basename.
	FindByBasenames(ctx context.Context, basenames []string) (map[string]string, error)
}

// FeedbackRepository defines the interface for feedback data operations.
type FeedbackRepository interface {
	Create(ctx context.Context, fb *model.Feedback) error
	// FindByHash returns nil, nil when systemID has no feedback with the content hash.
	FindByHash(ctx context.Context, systemID, hash string) (*model.Feedback, error)
	ListRecent(ctx context.Context, systemID string, limit int) ([]*model.Feedback, error)
}

// AnalysisProvider is the external AI/OCR capability.
type AnalysisProvider interface {
	Name() string
	Analyze(ctx context.Context, req *model.AnalysisRequest) (*model.AnalysisResult, error)
}

// TaskProducer enqueues job ids for the worker pool.
type TaskProducer interface {
	Enqueue(ctx context.Context, msg model.TaskMessage) error
}

// Delivery is a received task and its acknowledgement.
type Delivery struct {
	Message model.TaskMessage
	Ack     func(ctx context.Context) error
}

// TaskConsumer receives tasks; Receive blocks until a task arrives or ctx ends.
type TaskConsumer interface {
	Receive(ctx context.Context) (*Delivery, error)
}

// BreakerStateStore persists circuit breaker state per key.
type BreakerStateStore interface {
	// Load returns false when no state has been stored for key.
	Load(ctx context.Context, key string) (model.BreakerState, bool, error)
	Save(ctx context.Context, state model.BreakerState) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]model.BreakerState, error)
}

// BatchNotifier receives terminal job transitions for batch aggregation.
type BatchNotifier interface {
	UpdateBatchJob(ctx context.Context, batchID string, job *model.Job) error
}

// RequeueStaleParams groups parameters for ReaperRepository.RequeueStaleProcessing.
type RequeueStaleParams struct {
	MaxAge     time.Duration
	MaxRetries int
	BatchSize  int
}

// StaleProcessingResult reports a stale Processing sweep.
type StaleProcessingResult struct {
	Requeued int64
	// Failed lists the jobs whose retry budget was exhausted.
	Failed []model.JobRef
}

// ReaperRepository defines the interface for job cleanup operations.
type ReaperRepository interface {
	// RequeueStaleProcessing returns Processing jobs untouched for MaxAge to
	// Queued, consuming one retry, or fails them when the budget is spent.
	RequeueStaleProcessing(ctx context.Context, params RequeueStaleParams) (StaleProcessingResult, error)

	// FailStaleQueuedJobs marks Queued jobs older than maxAge that were never
	// dispatched as failed. Processes up to batchSize jobs per call.
	FailStaleQueuedJobs(ctx context.Context, maxAge time.Duration, batchSize int) ([]model.JobRef, error)

	// StripTerminalPayloads clears the image payload of terminal jobs older than maxAge.
	StripTerminalPayloads(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)
}
