package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/bms-ingest/config"
	"github.com/target/bms-ingest/internal/adapters/jobrunner"
	"github.com/target/bms-ingest/internal/adapters/reaper"
	"github.com/target/bms-ingest/internal/core"
	"github.com/target/bms-ingest/internal/observability/metrics"
)

// WorkerPoolConfig contains configuration for the worker pool.
type WorkerPoolConfig struct {
	Consumer      core.TaskConsumer
	Worker        jobrunner.JobProcessor
	Sweeper       jobrunner.RetrySweeper
	Concurrency   int
	Pace          float64
	SweepInterval time.Duration
	Logger        *slog.Logger
	Metrics       metrics.Sink
}

// RunWorkerPool drains the task queue into the worker and sweeps due retries
// until ctx is cancelled.
func RunWorkerPool(ctx context.Context, cfg WorkerPoolConfig) error {
	runner, err := jobrunner.NewRunner(jobrunner.RunnerOptions{
		Consumer:      cfg.Consumer,
		Worker:        cfg.Worker,
		Sweeper:       cfg.Sweeper,
		Concurrency:   cfg.Concurrency,
		Pace:          cfg.Pace,
		SweepInterval: cfg.SweepInterval,
		Logger:        cfg.Logger,
		Metrics:       cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}

	if runErr := runner.Run(ctx); runErr != nil {
		return fmt.Errorf("run worker pool: %w", runErr)
	}
	return nil
}

// ReaperConfig contains configuration for reaper.
type ReaperConfig struct {
	DB         *sql.DB
	Repo       core.ReaperRepository
	Config     config.ReaperConfig
	Notifier   core.BatchNotifier
	MaxRetries int
	Logger     *slog.Logger
	Metrics    metrics.Sink
}

func newReaperRunner(cfg ReaperConfig) (*reaper.Runner, error) {
	opts := reaper.RunnerOptions{
		DB:         cfg.DB,
		Repo:       cfg.Repo,
		Config:     cfg.Config,
		Logger:     cfg.Logger,
		Notifier:   cfg.Notifier,
		MaxRetries: cfg.MaxRetries,
		Metrics:    cfg.Metrics,
	}
	runner, err := reaper.NewRunner(opts)
	if err != nil {
		return nil, fmt.Errorf("create reaper runner: %w", err)
	}
	return runner, nil
}

// RunReaper starts the reaper service.
func RunReaper(ctx context.Context, cfg ReaperConfig) error {
	runner, err := newReaperRunner(cfg)
	if err != nil {
		return err
	}

	if runErr := runner.Run(ctx); runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// RunReaperOnce performs a single reaper pass.
func RunReaperOnce(ctx context.Context, cfg ReaperConfig) error {
	runner, err := newReaperRunner(cfg)
	if err != nil {
		return err
	}
	return runner.RunOnce(ctx)
}
