// Package jobrunner runs the worker pool: it drains the task queue into the
// job worker and periodically re-enqueues jobs whose retry time has passed.
package jobrunner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/target/bms-ingest/internal/breaker"
	"github.com/target/bms-ingest/internal/core"
	"github.com/target/bms-ingest/internal/domain/model"
	"github.com/target/bms-ingest/internal/observability/metrics"
	"github.com/target/bms-ingest/internal/queue"
)

const (
	defaultSweepInterval = 15 * time.Second
	receiveBackoff       = time.Second
	ackTimeout           = 5 * time.Second
)

// Delivery outcomes for metric tagging.
const (
	outcomeProcessed = "processed"
	outcomeSkipped   = "skipped"
	outcomeError     = "error"
)

// JobProcessor runs one job to its next state.
type JobProcessor interface {
	Process(ctx context.Context, jobID string) (*model.Job, error)
}

// RetrySweeper re-enqueues Queued jobs whose retry time has passed.
type RetrySweeper interface {
	EnqueueDueRetries(ctx context.Context) (int, error)
}

// RunnerOptions configures the worker pool.
type RunnerOptions struct {
	Consumer core.TaskConsumer // Required
	Worker   JobProcessor      // Required
	Sweeper  RetrySweeper      // Optional: no retry sweeps when nil

	// Concurrency is the number of jobs processed at once; defaults to 1.
	Concurrency int
	// Pace caps job starts per second; zero is unlimited.
	Pace float64
	// SweepInterval is how often due retries are re-enqueued; defaults to 15s.
	SweepInterval time.Duration

	Logger  *slog.Logger
	Metrics metrics.Sink
}

// Runner pulls tasks and hands them to the worker.
type Runner struct {
	consumer      core.TaskConsumer
	worker        JobProcessor
	sweeper       RetrySweeper
	workers       int
	limiter       *rate.Limiter
	sweepInterval time.Duration
	logger        *slog.Logger
	metrics       metrics.Sink
}

// NewRunner constructs a worker pool runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Consumer == nil {
		return nil, errors.New("task consumer is required")
	}
	if opts.Worker == nil {
		return nil, errors.New("job worker is required")
	}

	workers := opts.Concurrency
	if workers <= 0 {
		workers = 1
	}
	interval := opts.SweepInterval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Runner{
		consumer:      opts.Consumer,
		worker:        opts.Worker,
		sweeper:       opts.Sweeper,
		workers:       workers,
		sweepInterval: interval,
		logger:        logger.With("component", "job_runner"),
		metrics:       opts.Metrics,
	}
	if opts.Pace > 0 {
		burst := int(opts.Pace)
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(opts.Pace), burst)
	}
	return r, nil
}

// Run processes tasks until the context is cancelled or the queue is closed.
// In-flight jobs are waited for before Run returns.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting job runner",
		"workers", r.workers,
		"sweep_interval", r.sweepInterval,
		"paced", r.limiter != nil,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.receiveLoop(gctx) })
	if r.sweeper != nil {
		g.Go(func() error { return r.sweepLoop(gctx) })
	}

	err := g.Wait()
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, queue.ErrClosed) {
		return nil
	}
	return err
}

func (r *Runner) receiveLoop(ctx context.Context) error {
	sem := semaphore.NewWeighted(int64(r.workers))
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil
		}
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				sem.Release(1)
				return nil
			}
		}

		d, err := r.consumer.Receive(ctx)
		if err != nil {
			sem.Release(1)
			switch {
			case ctx.Err() != nil:
				return nil
			case errors.Is(err, queue.ErrClosed):
				r.logger.InfoContext(ctx, "task queue closed, stopping job runner")
				return queue.ErrClosed
			}
			r.logger.ErrorContext(ctx, "receive task", "error", err)
			if !sleep(ctx, receiveBackoff) {
				return nil
			}
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			r.handle(ctx, d)
		}()
	}
}

// handle processes one delivery. Deliveries are acknowledged once the job
// has moved on or can never be processed; a failed attempt is left pending
// so the queue redelivers it.
func (r *Runner) handle(ctx context.Context, d *core.Delivery) {
	jobID := d.Message.JobID
	job, err := r.worker.Process(ctx, jobID)

	outcome := outcomeProcessed
	switch {
	case err == nil:
	case errors.Is(err, model.ErrJobNotFound), errors.Is(err, model.ErrJobNotClaimable):
		outcome = outcomeSkipped
		status := ""
		if job != nil {
			status = string(job.Status)
		}
		r.logger.DebugContext(ctx, "skipping task", "job_id", jobID, "status", status, "reason", err)
	default:
		r.emit(outcomeError)
		if ctx.Err() == nil {
			r.logger.ErrorContext(ctx, "process job", "job_id", jobID, "attempt", d.Message.Attempt, "error", err)
		}
		return
	}
	r.emit(outcome)

	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ackTimeout)
	defer cancel()
	if err := d.Ack(ackCtx); err != nil {
		r.logger.WarnContext(ctx, "ack task", "job_id", jobID, "error", err)
	}
}

func (r *Runner) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		r.sweep(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (r *Runner) sweep(ctx context.Context) {
	n, err := r.sweeper.EnqueueDueRetries(ctx)
	switch {
	case err == nil:
	case breaker.IsOpen(err):
		r.logger.WarnContext(ctx, "retry sweep paused, task queue circuit open", "enqueued", n, "error", err)
	case ctx.Err() != nil:
		return
	default:
		r.logger.ErrorContext(ctx, "retry sweep", "enqueued", n, "error", err)
	}
	if r.metrics != nil && n > 0 {
		r.metrics.Count("jobrunner.retries_enqueued", int64(n), nil)
	}
}

func (r *Runner) emit(outcome string) {
	if r.metrics == nil {
		return
	}
	r.metrics.Count("jobrunner.delivery", 1, map[string]string{"outcome": outcome})
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
