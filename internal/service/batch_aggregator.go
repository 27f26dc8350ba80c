package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/bms-ingest/internal/core"
	"github.com/target/bms-ingest/internal/domain/model"
	apperrors "github.com/target/bms-ingest/internal/errors"
	"github.com/target/bms-ingest/internal/observability/metrics"
	"github.com/target/bms-ingest/internal/observability/tracing"
	"github.com/target/bms-ingest/internal/retry"
)

const (
	defaultConflictAttempts = 3
	defaultConflictBackoff  = 75 * time.Millisecond

	batchOutcomeApplied   = "applied"
	batchOutcomeNoop      = "noop"
	batchOutcomeAbandoned = "abandoned"
	batchOutcomeError     = "error"
)

// BatchAggregatorConfig tunes conflict handling.
type BatchAggregatorConfig struct {
	// ConflictAttempts bounds read-modify-write cycles per notification.
	ConflictAttempts int
	// ConflictBackoff is multiplied by the attempt number between cycles.
	ConflictBackoff time.Duration
	// StoreRetry wraps each individual store call.
	StoreRetry retry.Policy
	// Sleep overrides the conflict backoff wait (tests).
	Sleep func(ctx context.Context, d time.Duration) error
}

// BatchAggregatorOptions groups dependencies for BatchAggregator.
type BatchAggregatorOptions struct {
	Batches core.BatchRepository // Required
	Jobs    core.JobRepository   // Required for Reconcile
	Config  BatchAggregatorConfig
	Logger  *slog.Logger
	Metrics metrics.Sink
	Tracer  *tracing.Tracer
	Now     func() time.Time
}

// BatchAggregator folds terminal job transitions into their batch using
// optimistic concurrency on the batch version.
type BatchAggregator struct {
	batches core.BatchRepository
	jobs    core.JobRepository
	cfg     BatchAggregatorConfig
	logger  *slog.Logger
	metrics metrics.Sink
	tracer  *tracing.Tracer
	now     func() time.Time
}

var _ core.BatchNotifier = (*BatchAggregator)(nil)

// NewBatchAggregator constructs a BatchAggregator.
func NewBatchAggregator(opts BatchAggregatorOptions) (*BatchAggregator, error) {
	if opts.Batches == nil {
		return nil, errors.New("BatchRepository is required")
	}
	cfg := opts.Config
	if cfg.ConflictAttempts <= 0 {
		cfg.ConflictAttempts = defaultConflictAttempts
	}
	if cfg.ConflictBackoff <= 0 {
		cfg.ConflictBackoff = defaultConflictBackoff
	}
	a := &BatchAggregator{
		batches: opts.Batches,
		jobs:    opts.Jobs,
		cfg:     cfg,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
		now:     opts.Now,
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	a.logger = a.logger.With("component", "batch_aggregator")
	if a.tracer == nil {
		a.tracer = tracing.Noop()
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a, nil
}

// conflictPolicy retries the whole read-modify-write on version conflicts only.
func (a *BatchAggregator) conflictPolicy(op string) retry.Policy {
	return retry.Policy{
		Op:             op,
		MaxRetries:     a.cfg.ConflictAttempts - 1,
		InitialDelay:   a.cfg.ConflictBackoff,
		JitterFraction: -1,
		Backoff:        retry.Linear(a.cfg.ConflictBackoff),
		Retryable:      apperrors.IsVersionConflict,
		Logger:         a.logger,
		Sleep:          a.cfg.Sleep,
	}
}

// UpdateBatchJob records job's terminal status in its batch. Entries that are
// already terminal are left alone, so repeated notifications are harmless.
// When every attempt loses the version race the update is logged and dropped;
// Reconcile repairs the counters later.
func (a *BatchAggregator) UpdateBatchJob(ctx context.Context, batchID string, job *model.Job) error {
	if batchID == "" || job == nil {
		return nil
	}
	if !job.Status.Terminal() {
		return fmt.Errorf("update batch %s: job %s is %s, not terminal", batchID, job.ID, job.Status)
	}

	ctx, span := a.tracer.StartBatchUpdate(ctx, batchID, job.ID)
	defer span.End()

	attempts := 0
	outcome := batchOutcomeNoop
	err := retry.Do(ctx, a.conflictPolicy("batch.update_job"), func(ctx context.Context) error {
		attempts++
		batch, version, err := a.read(ctx, batchID)
		if err != nil {
			return err
		}
		applied, err := batch.ApplyJobResult(job.ID, job.Status, a.now())
		if err != nil {
			return fmt.Errorf("apply job %s: %w", job.ID, err)
		}
		if !applied {
			outcome = batchOutcomeNoop
			return nil
		}
		if _, err := a.write(ctx, batch, version); err != nil {
			return err
		}
		outcome = batchOutcomeApplied
		if batch.Status == model.BatchStatusCompleted {
			a.logger.InfoContext(ctx, "batch completed",
				"batch_id", batchID,
				"completed_jobs", batch.CompletedJobs,
				"failed_jobs", batch.FailedJobs,
			)
		}
		return nil
	})

	switch {
	case err == nil:
		tracing.SetOutcome(span, outcome)
		metrics.EmitBatchUpdate(a.metrics, outcome, attempts)
		return nil
	case apperrors.IsVersionConflict(err):
		tracing.SetOutcome(span, batchOutcomeAbandoned)
		metrics.EmitBatchUpdate(a.metrics, batchOutcomeAbandoned, attempts)
		a.logger.WarnContext(ctx, "batch update abandoned after version conflicts",
			"batch_id", batchID,
			"job_id", job.ID,
			"status", job.Status,
			"attempts", attempts,
		)
		return nil
	default:
		tracing.RecordError(span, err)
		metrics.EmitBatchUpdate(a.metrics, batchOutcomeError, attempts)
		return fmt.Errorf("update batch %s: %w", batchID, err)
	}
}

// Reconcile rebuilds a batch's counters and entry statuses from its job rows.
func (a *BatchAggregator) Reconcile(ctx context.Context, batchID string) (*model.Batch, error) {
	if a.jobs == nil {
		return nil, errors.New("reconcile requires a job repository")
	}

	var out *model.Batch
	err := retry.Do(ctx, a.conflictPolicy("batch.reconcile"), func(ctx context.Context) error {
		batch, version, err := a.read(ctx, batchID)
		if err != nil {
			return err
		}
		statuses, err := retry.DoValue(ctx, storeOp(a.cfg.StoreRetry, "jobs.statuses_by_batch"),
			func(ctx context.Context) (map[string]model.JobStatus, error) {
				return a.jobs.StatusesByBatch(ctx, batchID)
			})
		if err != nil {
			return fmt.Errorf("load job statuses: %w", err)
		}

		before := *batch
		batch.ApplyCounts(statuses, a.now())
		if _, err := a.write(ctx, batch, version); err != nil {
			return err
		}
		if before.CompletedJobs != batch.CompletedJobs || before.FailedJobs != batch.FailedJobs || before.Status != batch.Status {
			a.logger.InfoContext(ctx, "batch reconciled",
				"batch_id", batchID,
				"completed_jobs", batch.CompletedJobs,
				"failed_jobs", batch.FailedJobs,
				"status", batch.Status,
			)
		}
		out = batch
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile batch %s: %w", batchID, err)
	}
	return out, nil
}

func (a *BatchAggregator) read(ctx context.Context, batchID string) (*model.Batch, int64, error) {
	var version int64
	batch, err := retry.DoValue(ctx, storeOp(a.cfg.StoreRetry, "batches.get"), func(ctx context.Context) (*model.Batch, error) {
		b, v, err := a.batches.Get(ctx, batchID)
		version = v
		return b, err
	})
	if err != nil {
		return nil, 0, fmt.Errorf("read batch: %w", err)
	}
	return batch, version, nil
}

func (a *BatchAggregator) write(ctx context.Context, batch *model.Batch, version int64) (int64, error) {
	return retry.DoValue(ctx, casOp(a.cfg.StoreRetry, "batches.update_if_version"), func(ctx context.Context) (int64, error) {
		return a.batches.UpdateIfVersion(ctx, batch, version)
	})
}
