package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/bms-ingest/internal/breaker"
	"github.com/target/bms-ingest/internal/core"
	"github.com/target/bms-ingest/internal/domain/model"
	"github.com/target/bms-ingest/internal/observability/metrics"
	"github.com/target/bms-ingest/internal/retry"
)

const (
	defaultRedeliveryGrace = 5 * time.Minute
	defaultSweepLimit      = 100
)

// JobServiceConfig tunes the retry sweeper.
type JobServiceConfig struct {
	// RedeliveryGrace pushes nextRetryAt forward for swept jobs so a lost
	// message is picked up again on a later sweep.
	RedeliveryGrace time.Duration
	SweepLimit      int
	StoreRetry      retry.Policy
}

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Jobs     core.JobRepository       // Required
	Batches  core.BatchRepository     // Required
	Producer core.TaskProducer        // Required
	Breakers *breaker.Registry        // Required
	Status   *core.StatusCacheService // Optional: defaults to an uncached reader
	Config   JobServiceConfig
	Logger   *slog.Logger
	Metrics  metrics.Sink
	Now      func() time.Time
}

// JobService serves job and batch reads and hands jobs to the worker pool.
type JobService struct {
	jobs     core.JobRepository
	batches  core.BatchRepository
	producer core.TaskProducer
	breakers *breaker.Registry
	status   *core.StatusCacheService
	cfg      JobServiceConfig
	logger   *slog.Logger
	metrics  metrics.Sink
	now      func() time.Time
}

// KickoffResult reports a process-analysis request.
type KickoffResult struct {
	JobID string `json:"jobId"`
	// Enqueued is false when a kickoff for the job was already in flight.
	Enqueued bool `json:"enqueued"`
}

// NewJobService constructs a JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	switch {
	case opts.Jobs == nil:
		return nil, errors.New("JobRepository is required")
	case opts.Batches == nil:
		return nil, errors.New("BatchRepository is required")
	case opts.Producer == nil:
		return nil, errors.New("TaskProducer is required")
	case opts.Breakers == nil:
		return nil, errors.New("breaker registry is required")
	}
	cfg := opts.Config
	if cfg.RedeliveryGrace <= 0 {
		cfg.RedeliveryGrace = defaultRedeliveryGrace
	}
	if cfg.SweepLimit <= 0 {
		cfg.SweepLimit = defaultSweepLimit
	}
	s := &JobService{
		jobs:     opts.Jobs,
		batches:  opts.Batches,
		producer: opts.Producer,
		breakers: opts.Breakers,
		status:   opts.Status,
		cfg:      cfg,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		now:      opts.Now,
	}
	if s.status == nil {
		s.status = core.NewStatusCacheService(core.StatusCacheServiceOptions{Jobs: opts.Jobs})
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "job_service")
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// GetJob returns a job by id or model.ErrJobNotFound.
func (s *JobService) GetJob(ctx context.Context, id string) (*model.Job, error) {
	job, err := retry.DoValue(ctx, storeOp(s.cfg.StoreRetry, "jobs.get"), func(ctx context.Context) (*model.Job, error) {
		return s.status.GetJob(ctx, id)
	})
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// GetBatch returns a batch by id or model.ErrBatchNotFound.
func (s *JobService) GetBatch(ctx context.Context, id string) (*model.Batch, error) {
	batch, err := retry.DoValue(ctx, storeOp(s.cfg.StoreRetry, "batches.get"), func(ctx context.Context) (*model.Batch, error) {
		b, _, err := s.batches.Get(ctx, id)
		return b, err
	})
	if err != nil {
		return nil, fmt.Errorf("get batch %s: %w", id, err)
	}
	return batch, nil
}

// ListBatchJobs returns the jobs of a batch in creation order.
func (s *JobService) ListBatchJobs(ctx context.Context, batchID string) ([]*model.Job, error) {
	if _, err := s.GetBatch(ctx, batchID); err != nil {
		return nil, err
	}
	jobs, err := s.jobs.ListByBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("list jobs of batch %s: %w", batchID, err)
	}
	for i, j := range jobs {
		jobs[i] = j.WithoutPayload()
	}
	return jobs, nil
}

// Kickoff enqueues a Queued job for processing. It returns
// model.ErrJobNotFound for an unknown job and model.ErrJobNotClaimable when
// the job has already left Queued.
func (s *JobService) Kickoff(ctx context.Context, jobID string) (*KickoffResult, error) {
	job, err := retry.DoValue(ctx, storeOp(s.cfg.StoreRetry, "jobs.get"), func(ctx context.Context) (*model.Job, error) {
		return s.jobs.GetByID(ctx, jobID)
	})
	if err != nil {
		return nil, fmt.Errorf("kickoff job %s: %w", jobID, err)
	}
	if job.Status != model.JobStatusQueued {
		return nil, model.ErrJobNotClaimable
	}

	acquired, err := s.status.AcquireKickoff(ctx, jobID)
	if err != nil {
		// The claim in the worker is the real guard; the cache only trims noise.
		s.logger.WarnContext(ctx, "kickoff guard unavailable", "job_id", jobID, "error", err)
		acquired = true
	}
	if !acquired {
		return &KickoffResult{JobID: jobID}, nil
	}

	if err := s.enqueue(ctx, job); err != nil {
		if rerr := s.status.ReleaseKickoff(ctx, jobID); rerr != nil {
			s.logger.WarnContext(ctx, "release kickoff guard", "job_id", jobID, "error", rerr)
		}
		return nil, fmt.Errorf("enqueue job %s: %w", jobID, err)
	}
	s.logger.InfoContext(ctx, "job kicked off", "job_id", jobID)
	return &KickoffResult{JobID: jobID, Enqueued: true}, nil
}

// EnqueueDueRetries re-enqueues Queued jobs whose retry time has passed.
// Claimed jobs have their nextRetryAt pushed forward by the redelivery grace,
// so a message that never reaches a worker is swept again later.
func (s *JobService) EnqueueDueRetries(ctx context.Context) (int, error) {
	due, err := retry.DoValue(ctx, storeOp(s.cfg.StoreRetry, "jobs.claim_due_retries"), func(ctx context.Context) ([]*model.Job, error) {
		return s.jobs.ClaimDueRetries(ctx, core.ClaimDueRetriesParams{
			Now:   s.now().UTC(),
			Grace: s.cfg.RedeliveryGrace,
			Limit: s.cfg.SweepLimit,
		})
	})
	if err != nil {
		return 0, fmt.Errorf("claim due retries: %w", err)
	}

	enqueued := 0
	for _, job := range due {
		if err := s.enqueue(ctx, job); err != nil {
			if breaker.IsOpen(err) || isContextCancellation(err) {
				// Remaining jobs stay due and are retried on the next sweep.
				return enqueued, suppressContextCancellation(err)
			}
			s.logger.WarnContext(ctx, "re-enqueue failed", "job_id", job.ID, "error", err)
			continue
		}
		enqueued++
	}
	if enqueued > 0 {
		s.logger.InfoContext(ctx, "re-enqueued due retries", "count", enqueued)
	}
	return enqueued, nil
}

func (s *JobService) enqueue(ctx context.Context, job *model.Job) error {
	msg := model.TaskMessage{JobID: job.ID, Attempt: job.RetryCount, EnqueuedAt: s.now().UTC()}
	err := s.breakers.Execute(ctx, breaker.GlobalKey, func(ctx context.Context) error {
		return s.producer.Enqueue(ctx, msg)
	})
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
		Transition: metrics.TransitionSubmitted,
		Result:     result,
		Err:        err,
	})
	return err
}
