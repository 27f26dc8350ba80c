package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/bms-ingest/config"
	"github.com/target/bms-ingest/internal/core"
	"github.com/target/bms-ingest/internal/domain/model"
	obserrors "github.com/target/bms-ingest/internal/observability/errors"
	"github.com/target/bms-ingest/internal/observability/metrics"
)

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Repo     core.ReaperRepository // Required: reaper repository
	Config   config.ReaperConfig   // Required: reaper configuration
	Notifier core.BatchNotifier    // Optional: told about jobs the reaper fails
	// MaxRetries bounds how often a stale Processing job is requeued.
	MaxRetries int
	Logger     *slog.Logger // Optional: structured logger
	Metrics    metrics.Sink // Optional: metrics sink
	Now        func() time.Time
}

// ReaperService sweeps jobs that stopped making progress.
//
// Each pass:
// - Requeues Processing jobs abandoned by a crashed worker (or fails them once the retry budget is spent).
// - Fails Queued jobs that were never handed to a worker.
// - Strips image payloads from old terminal jobs.
type ReaperService struct {
	repo       core.ReaperRepository
	config     config.ReaperConfig
	notifier   core.BatchNotifier
	maxRetries int
	logger     *slog.Logger
	metrics    metrics.Sink
	now        func() time.Time
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Repo == nil {
		return nil, errors.New("ReaperRepository is required")
	}
	if opts.Config.Interval <= 0 {
		return nil, errors.New("reaper interval must be positive")
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 || maxRetries > model.MaxRetryCount {
		maxRetries = model.MaxRetryCount
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "reaper_service")
		logger.Debug("ReaperService initialized",
			"interval", opts.Config.Interval,
			"processing_max_age", opts.Config.ProcessingMaxAge,
			"queued_max_age", opts.Config.QueuedMaxAge,
			"payload_max_age", opts.Config.PayloadMaxAge,
		)
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &ReaperService{
		repo:       opts.Repo,
		config:     opts.Config,
		notifier:   opts.Notifier,
		maxRetries: maxRetries,
		logger:     logger,
		metrics:    opts.Metrics,
		now:        now,
	}, nil
}

// Run starts the reaper loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *ReaperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting reaper service", "interval", s.config.Interval)
	}

	// Spread instances that start together.
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if err := s.RunOnce(ctx); err != nil {
		s.logCleanupError(err, "initial sweep")
	}

	return s.runLoop(ctx, ticker)
}

// waitWithJitter adds a random delay up to 10% of the interval.
func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		}
		return
	}

	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	timer := time.NewTimer(jitter)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (s *ReaperService) runLoop(ctx context.Context, ticker *time.Ticker) error {
	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logCleanupError(err, "sweep")
			}
		}
	}
}

// RunOnce performs one pass of every sweep. A failing step does not stop
// the ones after it.
func (s *ReaperService) RunOnce(ctx context.Context) error {
	start := s.now()
	var (
		errs               []error
		allContextCanceled = true
		results            = make([]stepResult, 0, 3)
	)

	steps := []cleanupStep{
		{fn: s.requeueStaleProcessing, label: "requeue stale processing jobs", operation: "requeue_processing"},
		{fn: s.failStaleQueued, label: "fail stale queued jobs", operation: "fail_queued"},
		{fn: s.stripPayloads, label: "strip terminal payloads", operation: "strip_payloads"},
	}

	for _, step := range steps {
		count, err := step.fn(ctx)
		results = append(results, stepResult{operation: step.operation, count: count, err: suppressContextCancellation(err)})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", step.label, err))
			allContextCanceled = allContextCanceled && isContextCancellation(err)
		}
	}

	s.emitCleanupMetrics(results, s.now().Sub(start))

	if len(errs) > 0 {
		joined := errors.Join(errs...)
		if allContextCanceled {
			return context.Canceled
		}
		return fmt.Errorf("reaper sweep failed: %w", joined)
	}
	return nil
}

type cleanupFunc func(context.Context) (int64, error)

type cleanupStep struct {
	fn        cleanupFunc
	label     string
	operation string
}

type stepResult struct {
	operation string
	count     int64
	err       error
}

// requeueStaleProcessing loops in batches until no stale Processing job is left.
func (s *ReaperService) requeueStaleProcessing(ctx context.Context) (int64, error) {
	var requeued, failed int64
	for {
		res, err := s.repo.RequeueStaleProcessing(ctx, core.RequeueStaleParams{
			MaxAge:     s.config.ProcessingMaxAge,
			MaxRetries: s.maxRetries,
			BatchSize:  s.config.BatchSize,
		})
		if err != nil {
			return requeued + failed, err
		}
		requeued += res.Requeued
		failed += int64(len(res.Failed))
		s.notifyFailed(ctx, res.Failed)

		if res.Requeued+int64(len(res.Failed)) < int64(s.config.BatchSize) {
			break
		}
		if ctx.Err() != nil {
			return requeued + failed, ctx.Err()
		}
	}

	if requeued+failed > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "swept stale processing jobs",
			"requeued", requeued,
			"failed", failed,
			"max_age", s.config.ProcessingMaxAge,
		)
	}
	return requeued + failed, nil
}

// failStaleQueued fails Queued jobs that never reached a worker.
func (s *ReaperService) failStaleQueued(ctx context.Context) (int64, error) {
	var total int64
	for {
		refs, err := s.repo.FailStaleQueuedJobs(ctx, s.config.QueuedMaxAge, s.config.BatchSize)
		if err != nil {
			return total, err
		}
		total += int64(len(refs))
		s.notifyFailed(ctx, refs)

		if len(refs) < s.config.BatchSize {
			break
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}

	if total > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "failed stale queued jobs",
			"count", total,
			"max_age", s.config.QueuedMaxAge,
		)
	}
	return total, nil
}

func (s *ReaperService) stripPayloads(ctx context.Context) (int64, error) {
	var total int64
	for {
		count, err := s.repo.StripTerminalPayloads(ctx, s.config.PayloadMaxAge, s.config.BatchSize)
		if err != nil {
			return total, err
		}
		total += count
		if count == 0 {
			break
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}

	if total > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "stripped terminal job payloads",
			"count", total,
			"max_age", s.config.PayloadMaxAge,
		)
	}
	return total, nil
}

// notifyFailed tells the batch aggregator about jobs the reaper moved to failed.
func (s *ReaperService) notifyFailed(ctx context.Context, refs []model.JobRef) {
	if s.notifier == nil {
		return
	}
	for _, ref := range refs {
		job := &model.Job{ID: ref.ID, BatchID: ref.BatchID, Status: ref.Status}
		if !job.InBatch() {
			continue
		}
		if err := s.notifier.UpdateBatchJob(ctx, *ref.BatchID, job); err != nil && s.logger != nil {
			s.logger.ErrorContext(ctx, "batch notification failed", "job_id", ref.ID, "batch_id", *ref.BatchID, "error", err)
		}
	}
}

func (s *ReaperService) emitCleanupMetrics(results []stepResult, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}

	var (
		total    int64
		firstErr error
	)
	for _, r := range results {
		total += r.count
		if firstErr == nil {
			firstErr = r.err
		}
	}

	result := metrics.ResultSuccess
	if firstErr != nil {
		result = metrics.ResultError
	} else if total == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{"result": result}
	if firstErr != nil {
		if class := obserrors.Classify(firstErr); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("reaper.cleanup", 1, tags)
	if elapsed > 0 {
		s.metrics.Timing("reaper.cleanup_duration", elapsed, metrics.CloneTags(tags))
	}
	for _, r := range results {
		s.emitCleanupOperationMetric(r.operation, r.count, r.err)
	}
	if firstErr == nil {
		s.metrics.Gauge("reaper.last_success_epoch", float64(s.now().Unix()), nil)
	}
}

func (s *ReaperService) emitCleanupOperationMetric(operation string, count int64, err error) {
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	} else if count == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{
		"operation": operation,
		"result":    result,
	}
	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("reaper.cleanup_operation", 1, tags)
	if err == nil && count > 0 {
		s.metrics.Count("reaper.jobs_processed", count, metrics.CloneTags(tags))
	}
}

func (s *ReaperService) logCleanupError(err error, label string) {
	if err == nil || s.logger == nil {
		return
	}
	if isContextCancellation(err) {
		s.logger.Debug(label+" cancelled by context", "error", err)
		return
	}
	s.logger.Error(label+" failed", "error", err)
}
