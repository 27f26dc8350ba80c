package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/target/bms-ingest/internal/breaker"
	"github.com/target/bms-ingest/internal/core"
	"github.com/target/bms-ingest/internal/domain/model"
	apperrors "github.com/target/bms-ingest/internal/errors"
	"github.com/target/bms-ingest/internal/observability/metrics"
	"github.com/target/bms-ingest/internal/observability/tracing"
	"github.com/target/bms-ingest/internal/retry"
)

const (
	defaultRetryBaseDelay  = 60 * time.Second
	defaultProviderTimeout = 90 * time.Second
	finalizeTimeout        = 10 * time.Second

	// MaxRetriesExceededReason is recorded on jobs that exhausted their retry budget.
	MaxRetriesExceededReason = "Max retries exceeded"
)

// errSuperseded marks a conditional write that matched nothing because
// another actor moved the job first.
var errSuperseded = errors.New("job superseded")

// WorkerConfig tunes the retry policy of a Worker.
type WorkerConfig struct {
	MaxRetryCount   int
	RetryBaseDelay  time.Duration
	ProviderTimeout time.Duration
	// ProviderRetry governs inline retries of connectivity failures.
	ProviderRetry retry.Policy
	StoreRetry    retry.Policy
}

// WorkerOptions groups dependencies for Worker.
type WorkerOptions struct {
	Jobs     core.JobRepository       // Required
	Provider core.AnalysisProvider    // Required
	Breakers *breaker.Registry        // Required
	Notifier core.BatchNotifier       // Optional: batch aggregation
	Cache    *core.StatusCacheService // Optional: invalidated on transitions
	Config   WorkerConfig
	Logger   *slog.Logger
	Metrics  metrics.Sink
	Tracer   *tracing.Tracer
	Now      func() time.Time
}

// Worker processes one job: claim, analyze, record the outcome.
type Worker struct {
	jobs     core.JobRepository
	provider core.AnalysisProvider
	breakers *breaker.Registry
	notifier core.BatchNotifier
	cache    *core.StatusCacheService
	cfg      WorkerConfig
	logger   *slog.Logger
	metrics  metrics.Sink
	tracer   *tracing.Tracer
	now      func() time.Time
}

// NewWorker constructs a Worker.
func NewWorker(opts WorkerOptions) (*Worker, error) {
	switch {
	case opts.Jobs == nil:
		return nil, errors.New("JobRepository is required")
	case opts.Provider == nil:
		return nil, errors.New("AnalysisProvider is required")
	case opts.Breakers == nil:
		return nil, errors.New("breaker registry is required")
	}
	cfg := opts.Config
	if cfg.MaxRetryCount < 0 || cfg.MaxRetryCount > model.MaxRetryCount {
		cfg.MaxRetryCount = model.MaxRetryCount
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = defaultRetryBaseDelay
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = defaultProviderTimeout
	}
	if cfg.ProviderRetry.Retryable == nil {
		cfg.ProviderRetry.Retryable = apperrors.IsRetryable
	}

	w := &Worker{
		jobs:     opts.Jobs,
		provider: opts.Provider,
		breakers: opts.Breakers,
		notifier: opts.Notifier,
		cache:    opts.Cache,
		cfg:      cfg,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
		now:      opts.Now,
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	w.logger = w.logger.With("component", "worker", "provider", opts.Provider.Name())
	if w.tracer == nil {
		w.tracer = tracing.Noop()
	}
	if w.now == nil {
		w.now = time.Now
	}
	return w, nil
}

// RetryDelay returns the requeue delay after a failure at retryCount.
func (w *Worker) RetryDelay(retryCount int) time.Duration {
	return w.cfg.RetryBaseDelay * time.Duration(math.Pow(2, float64(retryCount+1)))
}

// Process runs jobID to a new state. It returns model.ErrJobNotFound for an
// unknown job and model.ErrJobNotClaimable when the job is not Queued; in both
// cases nothing is processed. Provider failures are absorbed into the job
// state and are not returned.
func (w *Worker) Process(ctx context.Context, jobID string) (*model.Job, error) {
	ctx, span := w.tracer.StartProcess(ctx, jobID)
	defer span.End()

	job, err := retry.DoValue(ctx, storeOp(w.cfg.StoreRetry, "jobs.get"), func(ctx context.Context) (*model.Job, error) {
		return w.jobs.GetByID(ctx, jobID)
	})
	if err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.Status != model.JobStatusQueued {
		tracing.SetOutcome(span, "not_claimable")
		return job, model.ErrJobNotClaimable
	}

	start := w.now()
	claimed, err := retry.DoValue(ctx, storeOp(w.cfg.StoreRetry, "jobs.claim"), func(ctx context.Context) (*model.Job, error) {
		return w.jobs.Claim(ctx, jobID)
	})
	if err != nil {
		if errors.Is(err, model.ErrJobNotClaimable) {
			tracing.SetOutcome(span, "not_claimable")
			return job, model.ErrJobNotClaimable
		}
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("claim job %s: %w", jobID, err)
	}
	w.emit(metrics.TransitionClaimed, metrics.ResultSuccess, 0, nil)

	// Exactly one batch notification per terminal transition, whatever path got us there.
	var settled *model.Job
	defer func() {
		if settled != nil {
			w.notifyBatch(ctx, settled)
		}
	}()

	result, callErr := w.analyze(ctx, claimed)
	var outcome *model.Job
	if callErr == nil {
		outcome, err = w.complete(ctx, claimed, result)
	} else {
		outcome, err = w.handleFailure(ctx, claimed, callErr)
	}
	if errors.Is(err, errSuperseded) {
		tracing.SetOutcome(span, "superseded")
		return outcome, nil
	}
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	if outcome.Status.Terminal() {
		settled = outcome
		w.invalidate(ctx, outcome.ID)
	}
	tracing.SetOutcome(span, string(outcome.Status))
	w.logger.InfoContext(ctx, "job processed",
		"job_id", outcome.ID,
		"status", outcome.Status,
		"retry_count", outcome.RetryCount,
		"duration", w.now().Sub(start),
	)
	return outcome, nil
}

// analyze calls the provider under its tool breaker, retrying connectivity
// failures inline within ProviderTimeout.
func (w *Worker) analyze(ctx context.Context, job *model.Job) (*model.AnalysisResult, error) {
	payload, err := job.DecodePayload()
	if err != nil {
		return nil, apperrors.Provider(err.Error())
	}
	if payload.Data == "" {
		return nil, apperrors.Provider("job payload has no image data")
	}
	req := &model.AnalysisRequest{
		JobID:    job.ID,
		FileName: payload.FileName,
		MimeType: payload.MimeType,
		Data:     payload.Data,
		Context:  job.Context,
	}

	name := w.provider.Name()
	ctx, span := w.tracer.StartProviderCall(ctx, name, job.ID)
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, w.cfg.ProviderTimeout)
	defer cancel()

	policy := w.cfg.ProviderRetry
	policy.Op = "provider." + name
	policy.Logger = w.logger

	var result *model.AnalysisResult
	err = w.breakers.Execute(callCtx, breaker.ToolKey(name), func(ctx context.Context) error {
		res, err := retry.DoValue(ctx, policy, func(ctx context.Context) (*model.AnalysisResult, error) {
			return w.provider.Analyze(ctx, req)
		})
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		// The call ran out of time rather than being canceled by shutdown.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil && !apperrors.IsTimeout(err) {
			err = apperrors.Wrap(err, apperrors.ErrCodeTimeout, name+" exceeded the provider timeout")
		}
		tracing.RecordError(span, err)
		return nil, err
	}
	if result == nil {
		return nil, apperrors.Providerf("%s returned no result", name)
	}
	return result, nil
}

func (w *Worker) complete(ctx context.Context, job *model.Job, result *model.AnalysisResult) (*model.Job, error) {
	ctx, cancel := finalizeContext(ctx)
	defer cancel()

	now := w.now().UTC()
	jobID := job.ID
	record := &model.AnalysisRecord{
		ID:        uuid.NewString(),
		JobID:     &jobID,
		FileName:  job.FileName,
		Basename:  job.Basename,
		Provider:  result.Provider,
		Result:    result.Data,
		CreatedAt: now,
	}
	done, err := retry.DoValue(ctx, storeOp(w.cfg.StoreRetry, "jobs.complete"), func(ctx context.Context) (bool, error) {
		return w.jobs.Complete(ctx, core.CompleteJobParams{JobID: job.ID, Record: record})
	})
	if err != nil {
		w.emit(metrics.TransitionCompleted, metrics.ResultError, 0, err)
		return nil, fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	if !done {
		w.emit(metrics.TransitionCompleted, metrics.ResultNoop, 0, nil)
		return w.reload(ctx, job)
	}

	out := *job
	out.Status = model.JobStatusCompleted
	out.Result = result.Data
	out.RecordID = &record.ID
	out.CompletedAt = &now
	out.UpdatedAt = now
	w.emit(metrics.TransitionCompleted, metrics.ResultSuccess, w.since(job), nil)
	return &out, nil
}

func (w *Worker) handleFailure(ctx context.Context, job *model.Job, callErr error) (*model.Job, error) {
	ctx, cancel := finalizeContext(ctx)
	defer cancel()
	now := w.now().UTC()

	if openErr, ok := breaker.AsOpen(callErr); ok {
		return w.deferJob(ctx, job, openErr.RetryAfter, callErr)
	}
	if errors.Is(callErr, context.Canceled) || apperrors.IsCanceled(callErr) {
		// Shutdown; hand the job straight back to the retry sweeper.
		return w.deferJob(ctx, job, now, callErr)
	}

	if apperrors.IsTransient(callErr) {
		if job.RetryCount < w.cfg.MaxRetryCount {
			return w.requeue(ctx, job, callErr, now)
		}
		w.logger.WarnContext(ctx, "retry budget exhausted", "job_id", job.ID, "retry_count", job.RetryCount, "error", callErr)
		return w.fail(ctx, job, MaxRetriesExceededReason, callErr)
	}
	return w.fail(ctx, job, callErr.Error(), callErr)
}

func (w *Worker) requeue(ctx context.Context, job *model.Job, cause error, now time.Time) (*model.Job, error) {
	next := job.RetryCount + 1
	at := now.Add(w.RetryDelay(job.RetryCount))
	ok, err := retry.DoValue(ctx, storeOp(w.cfg.StoreRetry, "jobs.requeue"), func(ctx context.Context) (bool, error) {
		return w.jobs.Requeue(ctx, core.RequeueJobParams{
			JobID:       job.ID,
			RetryCount:  next,
			NextRetryAt: at,
			Reason:      cause.Error(),
		})
	})
	if err != nil {
		w.emit(metrics.TransitionRequeued, metrics.ResultError, 0, err)
		return nil, fmt.Errorf("requeue job %s: %w", job.ID, err)
	}
	if !ok {
		w.emit(metrics.TransitionRequeued, metrics.ResultNoop, 0, nil)
		return w.reload(ctx, job)
	}
	w.emit(metrics.TransitionRequeued, metrics.ResultError, w.since(job), cause)
	w.logger.InfoContext(ctx, "job requeued after transient failure",
		"job_id", job.ID,
		"retry_count", next,
		"next_retry_at", at,
		"error", cause,
	)

	out := *job
	reason := cause.Error()
	out.Status = model.JobStatusQueued
	out.RetryCount = next
	out.NextRetryAt = &at
	out.Error = &reason
	out.UpdatedAt = now
	return &out, nil
}

func (w *Worker) deferJob(ctx context.Context, job *model.Job, at time.Time, cause error) (*model.Job, error) {
	ok, err := retry.DoValue(ctx, storeOp(w.cfg.StoreRetry, "jobs.defer"), func(ctx context.Context) (bool, error) {
		return w.jobs.Defer(ctx, job.ID, at)
	})
	if err != nil {
		w.emit(metrics.TransitionDeferred, metrics.ResultError, 0, err)
		return nil, fmt.Errorf("defer job %s: %w", job.ID, err)
	}
	if !ok {
		w.emit(metrics.TransitionDeferred, metrics.ResultNoop, 0, nil)
		return w.reload(ctx, job)
	}
	w.emit(metrics.TransitionDeferred, metrics.ResultSuccess, 0, nil)
	w.logger.InfoContext(ctx, "job deferred", "job_id", job.ID, "until", at, "reason", cause)

	out := *job
	out.Status = model.JobStatusQueued
	out.NextRetryAt = &at
	return &out, nil
}

func (w *Worker) fail(ctx context.Context, job *model.Job, reason string, cause error) (*model.Job, error) {
	retryCount := job.RetryCount
	ok, err := retry.DoValue(ctx, storeOp(w.cfg.StoreRetry, "jobs.fail"), func(ctx context.Context) (bool, error) {
		return w.jobs.Fail(ctx, core.FailJobParams{JobID: job.ID, Reason: reason, RetryCount: &retryCount})
	})
	if err != nil {
		w.emit(metrics.TransitionFailed, metrics.ResultError, 0, err)
		return nil, fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	if !ok {
		w.emit(metrics.TransitionFailed, metrics.ResultNoop, 0, nil)
		return w.reload(ctx, job)
	}
	w.emit(metrics.TransitionFailed, metrics.ResultError, w.since(job), cause)
	w.logger.WarnContext(ctx, "job failed", "job_id", job.ID, "reason", reason)

	now := w.now().UTC()
	out := *job
	out.Status = model.JobStatusFailed
	out.Error = &reason
	out.CompletedAt = &now
	out.UpdatedAt = now
	return &out, nil
}

// reload returns the stored job after a conditional write matched nothing,
// which means another actor (usually the reaper) moved it first. The
// transition belongs to that actor, including its batch notification.
func (w *Worker) reload(ctx context.Context, job *model.Job) (*model.Job, error) {
	w.logger.WarnContext(ctx, "job changed state while processing", "job_id", job.ID)
	current, err := w.jobs.GetByID(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("reload job %s: %w", job.ID, err)
	}
	return current, errSuperseded
}

func (w *Worker) notifyBatch(ctx context.Context, job *model.Job) {
	if w.notifier == nil || !job.InBatch() {
		return
	}
	ctx, cancel := finalizeContext(ctx)
	defer cancel()
	if err := w.notifier.UpdateBatchJob(ctx, *job.BatchID, job); err != nil {
		w.logger.ErrorContext(ctx, "batch notification failed", "job_id", job.ID, "batch_id", *job.BatchID, "error", err)
	}
}

func (w *Worker) invalidate(ctx context.Context, jobID string) {
	if w.cache == nil {
		return
	}
	if err := w.cache.InvalidateJob(ctx, jobID); err != nil {
		w.logger.DebugContext(ctx, "invalidate cached job", "job_id", jobID, "error", err)
	}
}

func (w *Worker) since(job *model.Job) time.Duration {
	if job.StartedAt == nil {
		return 0
	}
	return w.now().Sub(*job.StartedAt)
}

func (w *Worker) emit(transition, result string, d time.Duration, err error) {
	metrics.EmitJobLifecycle(w.metrics, metrics.JobMetric{
		Provider:   w.provider.Name(),
		Transition: transition,
		Result:     result,
		Duration:   d,
		Err:        err,
	})
}

// finalizeContext detaches state writes from caller cancellation so a job
// is never left Processing because shutdown raced its final write.
func finalizeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
}
