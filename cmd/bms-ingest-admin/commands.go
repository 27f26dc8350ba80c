package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/target/bms-ingest/config"
	"github.com/target/bms-ingest/internal/bootstrap"
	"github.com/target/bms-ingest/internal/domain/model"
	"github.com/target/bms-ingest/internal/migrate"
)

type migrateOptions struct {
	Timeout time.Duration
}

type resetBreakerOptions struct {
	Key string
	All bool
}

func runMigrations(cmdCtx *commandContext, args []string) error {
	opts, err := parseMigrateFlags("migrate", args)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		cmdCtx.Logger.Info("running database migrations")
		if migrateErr := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); migrateErr != nil {
			return migrateErr
		}
		cmdCtx.Logger.Info("migrations completed successfully")
		return nil
	})
}

func runMigrationStatus(cmdCtx *commandContext, args []string) error {
	opts, err := parseMigrateFlags("migrate-status", args)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		statuses, statusErr := migrate.ReportStatus(ctx, db)
		if statusErr != nil {
			return statusErr
		}
		return printMigrationStatus(cmdCtx.Out, statuses)
	})
}

func printMigrationStatus(w io.Writer, statuses []migrate.Status) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if err := writef(tw, "VERSION\tSTATUS\tAPPLIED AT\n"); err != nil {
		return err
	}
	for _, st := range statuses {
		state, at := "pending", "-"
		if st.Applied {
			state = "applied"
			if st.AppliedAt != nil {
				at = st.AppliedAt.UTC().Format(time.RFC3339)
			}
		}
		if err := writef(tw, "%s\t%s\t%s\n", st.Version, state, at); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func runListBreakers(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("breakers", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	asJSON := fs.Bool("json", false, "Print JSON instead of a table")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireSharedBreakers(cmdCtx.Config); err != nil {
		return err
	}

	return withInfra(cmdCtx, defaultCommandTimeout, func(ctx context.Context, in *infra) error {
		states, err := in.Services.Breakers.List(ctx)
		if err != nil {
			return fmt.Errorf("list breakers: %w", err)
		}
		if *asJSON {
			return printJSON(cmdCtx.Out, states)
		}
		return printBreakers(cmdCtx.Out, states)
	})
}

func printBreakers(w io.Writer, states []model.BreakerState) error {
	if len(states) == 0 {
		return writef(w, "no breakers recorded\n")
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if err := writef(tw, "KEY\tSTATE\tFAILURES\tOPENED AT\n"); err != nil {
		return err
	}
	for _, st := range states {
		opened := "-"
		if st.OpenedAt != nil {
			opened = st.OpenedAt.UTC().Format(time.RFC3339)
		}
		if err := writef(tw, "%s\t%s\t%d\t%s\n", st.Key, st.State, st.FailureCount, opened); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func runResetBreaker(cmdCtx *commandContext, args []string) error {
	opts, err := parseResetBreakerFlags(args)
	if err != nil {
		return err
	}
	if cfgErr := requireSharedBreakers(cmdCtx.Config); cfgErr != nil {
		return cfgErr
	}

	return withInfra(cmdCtx, defaultCommandTimeout, func(ctx context.Context, in *infra) error {
		var results []model.BreakerResetResult
		if opts.All {
			all, resetErr := in.Services.Breakers.ResetAll(ctx)
			if resetErr != nil {
				return fmt.Errorf("reset breakers: %w", resetErr)
			}
			results = all
		} else {
			res, resetErr := in.Services.Breakers.Reset(ctx, opts.Key)
			if resetErr != nil {
				return fmt.Errorf("reset breaker %s: %w", opts.Key, resetErr)
			}
			results = []model.BreakerResetResult{res}
		}
		for _, r := range results {
			if writeErr := writef(cmdCtx.Out, "%s\treset (was open: %t)\n", r.Key, r.WasOpen); writeErr != nil {
				return writeErr
			}
		}
		return nil
	})
}

// requireSharedBreakers rejects breaker commands against the in-memory store,
// which only exists inside the running service process.
func requireSharedBreakers(cfg config.AppConfig) error {
	if cfg.Breaker.Store != config.BreakerStoreRedis {
		return errors.New("breaker state is per-process with BREAKER_STORE=memory; use POST /api/admin/breakers/reset on the service instead")
	}
	return nil
}

func runReconcile(cmdCtx *commandContext, args []string) error {
	id, err := parseIDFlag("reconcile", "batch", args)
	if err != nil {
		return err
	}

	return withInfra(cmdCtx, defaultCommandTimeout, func(ctx context.Context, in *infra) error {
		batch, reconcileErr := in.Services.Aggregator.Reconcile(ctx, id)
		if reconcileErr != nil {
			return fmt.Errorf("reconcile batch %s: %w", id, reconcileErr)
		}
		return printJSON(cmdCtx.Out, batch)
	})
}

func runShowJob(cmdCtx *commandContext, args []string) error {
	id, err := parseIDFlag("job", "id", args)
	if err != nil {
		return err
	}

	return withInfra(cmdCtx, defaultCommandTimeout, func(ctx context.Context, in *infra) error {
		job, getErr := in.Services.Jobs.GetJob(ctx, id)
		if getErr != nil {
			return fmt.Errorf("get job %s: %w", id, getErr)
		}
		return printJSON(cmdCtx.Out, job)
	})
}

func runReapOnce(cmdCtx *commandContext, args []string) error {
	opts, err := parseMigrateFlags("reap-once", args)
	if err != nil {
		return err
	}

	return withInfra(cmdCtx, opts.Timeout, func(ctx context.Context, in *infra) error {
		return bootstrap.RunReaperOnce(ctx, bootstrap.ReaperConfig{
			DB:         in.DB,
			Repo:       in.Services.JobRepo,
			Config:     cmdCtx.Config.Reaper,
			Notifier:   in.Services.Aggregator,
			MaxRetries: cmdCtx.Config.Jobs.MaxRetryCount,
			Logger:     cmdCtx.Logger,
			Metrics:    in.Services.Observability.MetricsSink,
		})
	})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseMigrateFlags(name string, args []string) (migrateOptions, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := migrateOptions{}
	fs.DurationVar(&opts.Timeout, "timeout", defaultMigrationTimeout, "Maximum duration to wait for the command to complete")

	if err := fs.Parse(args); err != nil {
		return migrateOptions{}, err
	}
	if opts.Timeout <= 0 {
		return migrateOptions{}, errors.New("--timeout must be greater than zero")
	}
	return opts, nil
}

func parseResetBreakerFlags(args []string) (resetBreakerOptions, error) {
	fs := flag.NewFlagSet("reset-breaker", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts resetBreakerOptions
	fs.StringVar(&opts.Key, "key", "", "Breaker key, e.g. global or tool:vision")
	fs.BoolVar(&opts.All, "all", false, "Reset every recorded breaker")

	if err := fs.Parse(args); err != nil {
		return resetBreakerOptions{}, err
	}
	opts.Key = strings.TrimSpace(opts.Key)
	switch {
	case opts.All && opts.Key != "":
		return resetBreakerOptions{}, errors.New("--key and --all are mutually exclusive")
	case !opts.All && opts.Key == "":
		return resetBreakerOptions{}, errors.New("one of --key or --all is required")
	}
	return opts, nil
}

func parseIDFlag(name, flagName string, args []string) (string, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	id := fs.String(flagName, "", "Identifier to operate on")

	if err := fs.Parse(args); err != nil {
		return "", err
	}
	v := strings.TrimSpace(*id)
	if v == "" {
		return "", fmt.Errorf("--%s is required", flagName)
	}
	return v, nil
}
