package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/target/bms-ingest/internal/breaker"
	"github.com/target/bms-ingest/internal/core"
	"github.com/target/bms-ingest/internal/dedupe"
	"github.com/target/bms-ingest/internal/domain/model"
	apperrors "github.com/target/bms-ingest/internal/errors"
	"github.com/target/bms-ingest/internal/observability/metrics"
	"github.com/target/bms-ingest/internal/observability/tracing"
	"github.com/target/bms-ingest/internal/queue"
	"github.com/target/bms-ingest/internal/retry"
)

const defaultOverflowDelay = 15 * time.Second

// batchClassifier is the slice of dedupe.Detector the dispatcher needs.
type batchClassifier interface {
	ClassifyBatch(ctx context.Context, items []dedupe.Item) ([]dedupe.Classification, error)
}

// DispatcherOptions groups dependencies for Dispatcher.
type DispatcherOptions struct {
	Jobs       core.JobRepository // Required
	Detector   batchClassifier    // Required
	Producer   core.TaskProducer  // Required
	Breakers   *breaker.Registry  // Required
	Notifier   core.BatchNotifier // Optional: told about jobs failed at enqueue
	StoreRetry retry.Policy
	// OverflowDelay schedules a job the local queue had no room for; the
	// retry sweeper enqueues it once due. Defaults to 15s.
	OverflowDelay time.Duration
	Logger        *slog.Logger
	Metrics       metrics.Sink
	Tracer        *tracing.Tracer
	Now           func() time.Time
	NewID         func() string
}

// Dispatcher turns an analyze request into queued jobs.
type Dispatcher struct {
	jobs       core.JobRepository
	detector   batchClassifier
	producer   core.TaskProducer
	breakers   *breaker.Registry
	notifier   core.BatchNotifier
	storeRetry retry.Policy
	overflow   time.Duration
	logger     *slog.Logger
	metrics    metrics.Sink
	tracer     *tracing.Tracer
	now        func() time.Time
	newID      func() string
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	switch {
	case opts.Jobs == nil:
		return nil, errors.New("JobRepository is required")
	case opts.Detector == nil:
		return nil, errors.New("duplicate detector is required")
	case opts.Producer == nil:
		return nil, errors.New("TaskProducer is required")
	case opts.Breakers == nil:
		return nil, errors.New("breaker registry is required")
	}
	d := &Dispatcher{
		jobs:       opts.Jobs,
		detector:   opts.Detector,
		producer:   opts.Producer,
		breakers:   opts.Breakers,
		notifier:   opts.Notifier,
		storeRetry: opts.StoreRetry,
		overflow:   opts.OverflowDelay,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		tracer:     opts.Tracer,
		now:        opts.Now,
		newID:      opts.NewID,
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	d.logger = d.logger.With("component", "dispatcher")
	if d.tracer == nil {
		d.tracer = tracing.Noop()
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.newID == nil {
		d.newID = uuid.NewString
	}
	if d.overflow <= 0 {
		d.overflow = defaultOverflowDelay
	}
	return d, nil
}

// Dispatch classifies every item, persists the batch and its new jobs in one
// transaction and then enqueues each job. Results keep request order.
func (d *Dispatcher) Dispatch(ctx context.Context, req model.AnalyzeRequest) (*model.DispatchResponse, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	ctx, span := d.tracer.StartDispatch(ctx, len(req.Images))
	defer span.End()

	sharedCtx, err := json.Marshal(model.DispatchContext{Systems: req.Systems})
	if err != nil {
		return nil, apperrors.Validationf("invalid systems context: %v", err)
	}

	items := make([]dedupe.Item, len(req.Images))
	for i, img := range req.Images {
		items[i] = dedupe.Item{FileName: img.FileName, Force: img.Force}
	}
	verdicts, err := d.detector.ClassifyBatch(ctx, items)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("classify items: %w", err)
	}

	now := d.now().UTC()
	resp := &model.DispatchResponse{Results: make([]model.DispatchResult, len(req.Images))}
	jobs := make([]*model.Job, 0, len(req.Images))
	for i, img := range req.Images {
		res := model.DispatchResult{Index: i, FileName: img.FileName}
		switch verdicts[i].Result.Kind {
		case model.DuplicateInBatch:
			res.Status = model.DispatchDuplicateBatch
		case model.DuplicateInHistory:
			res.Status = model.DispatchDuplicateHistory
			res.RecordID = verdicts[i].Result.MatchID
		default:
			job, err := d.newJob(img, verdicts[i].Basename, sharedCtx, now)
			if err != nil {
				return nil, err
			}
			jobs = append(jobs, job)
			res.Status = model.DispatchSubmitted
			res.JobID = job.ID
		}
		resp.Results[i] = res
	}
	d.emitOutcomes(resp.Results)

	if len(jobs) == 0 {
		tracing.SetOutcome(span, "all_duplicates")
		return resp, nil
	}

	batchID := d.newID()
	for _, j := range jobs {
		j.BatchID = &batchID
	}
	batch := model.NewBatch(batchID, jobs, now)
	err = retry.Do(ctx, storeOp(d.storeRetry, "jobs.create_batch"), func(ctx context.Context) error {
		return d.jobs.CreateBatch(ctx, core.CreateBatchParams{Batch: batch, Jobs: jobs})
	})
	if err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("persist batch: %w", err)
	}
	resp.BatchID = batchID
	resp.Submitted = len(jobs)

	d.logger.InfoContext(ctx, "dispatched analysis batch",
		"batch_id", batchID,
		"items", len(req.Images),
		"submitted", len(jobs),
	)

	for _, j := range jobs {
		d.enqueue(ctx, j)
	}
	tracing.SetOutcome(span, "submitted")
	return resp, nil
}

func (d *Dispatcher) newJob(img model.AnalyzeImage, basename string, sharedCtx json.RawMessage, now time.Time) (*model.Job, error) {
	payload, err := json.Marshal(model.ImagePayload{FileName: img.FileName, MimeType: img.MimeType, Data: img.Data})
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return &model.Job{
		ID:        d.newID(),
		Status:    model.JobStatusQueued,
		FileName:  img.FileName,
		Basename:  basename,
		Payload:   payload,
		Context:   sharedCtx,
		Force:     img.Force,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// enqueue hands one job to the worker pool under the global breaker. A job
// the local queue has no room for is scheduled for the retry sweeper; any
// other job that cannot be enqueued is failed at once so its batch can
// still settle.
func (d *Dispatcher) enqueue(ctx context.Context, job *model.Job) {
	msg := model.TaskMessage{JobID: job.ID, EnqueuedAt: d.now().UTC()}
	err := d.breakers.Execute(ctx, breaker.GlobalKey, func(ctx context.Context) error {
		return d.producer.Enqueue(ctx, msg)
	})
	if err == nil {
		return
	}
	if errors.Is(err, queue.ErrQueueFull) && d.deferOverflow(ctx, job) {
		return
	}
	d.failUnqueued(ctx, job, err)
}

// deferOverflow leaves job Queued with a nextRetryAt and reports whether the
// store accepted it.
func (d *Dispatcher) deferOverflow(ctx context.Context, job *model.Job) bool {
	at := d.now().UTC().Add(d.overflow)
	deferred, err := retry.DoValue(ctx, storeOp(d.storeRetry, "jobs.defer"), func(ctx context.Context) (bool, error) {
		return d.jobs.Defer(ctx, job.ID, at)
	})
	if err != nil || !deferred {
		d.logger.ErrorContext(ctx, "defer job after full queue", "job_id", job.ID, "deferred", deferred, "error", err)
		return false
	}
	d.logger.WarnContext(ctx, "task queue full, job scheduled for retry sweep", "job_id", job.ID, "next_retry_at", at)
	metrics.EmitJobLifecycle(d.metrics, metrics.JobMetric{
		Transition: metrics.TransitionDeferred,
		Result:     metrics.ResultSuccess,
	})
	return true
}

func (d *Dispatcher) failUnqueued(ctx context.Context, job *model.Job, err error) {
	d.logger.ErrorContext(ctx, "enqueue failed, failing job", "job_id", job.ID, "error", err)
	reason := "enqueue failed: " + err.Error()
	failed, ferr := retry.DoValue(ctx, storeOp(d.storeRetry, "jobs.fail"), func(ctx context.Context) (bool, error) {
		return d.jobs.Fail(ctx, core.FailJobParams{JobID: job.ID, Reason: reason})
	})
	if ferr != nil {
		d.logger.ErrorContext(ctx, "fail job after enqueue error", "job_id", job.ID, "error", ferr)
		return
	}
	metrics.EmitJobLifecycle(d.metrics, metrics.JobMetric{
		Transition: metrics.TransitionFailed,
		Result:     metrics.ResultError,
		Err:        err,
	})
	if !failed || d.notifier == nil || !job.InBatch() {
		return
	}
	job.Status = model.JobStatusFailed
	job.Error = &reason
	if nerr := d.notifier.UpdateBatchJob(ctx, *job.BatchID, job); nerr != nil {
		d.logger.ErrorContext(ctx, "notify batch of enqueue failure", "job_id", job.ID, "batch_id", *job.BatchID, "error", nerr)
	}
}

func (d *Dispatcher) emitOutcomes(results []model.DispatchResult) {
	counts := make(map[model.DispatchStatus]int, 3)
	for _, r := range results {
		counts[r.Status]++
	}
	for status, n := range counts {
		metrics.EmitDispatch(d.metrics, string(status), n)
	}
}
