package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/target/bms-ingest/config"
	"github.com/target/bms-ingest/internal/bootstrap"
)

// infra is the connected runtime a command works against.
type infra struct {
	DB       *sql.DB
	Redis    redis.UniversalClient
	Services bootstrap.ServiceContainer
}

func (i *infra) Close() error {
	var closeErr error
	if err := i.Services.Close(); err != nil {
		closeErr = errors.Join(closeErr, fmt.Errorf("close queue: %w", err))
	}
	if i.Redis != nil {
		if err := i.Redis.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close redis: %w", err))
		}
	}
	if i.DB != nil {
		if err := i.DB.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close db: %w", err))
		}
	}
	return closeErr
}

// adminConfig builds services without the worker or metrics so admin
// commands need neither a provider nor a telemetry pipeline.
func adminConfig(cfg config.AppConfig) config.AppConfig {
	cfg.Services = string(config.ServiceModeHTTP)
	cfg.Observability.MetricsEnabled = false
	cfg.Observability.TracingEnabled = false
	return cfg
}

func withDatabase(
	cmdCtx *commandContext,
	timeout time.Duration,
	f func(context.Context, *sql.DB) error,
) error {
	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{
		DBConfig: cmdCtx.Config.Postgres,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", cerr)
		}
	}()

	return f(ctx, db)
}

// withInfra connects Postgres and, when configured, Redis, then builds the
// service graph the command runs against.
func withInfra(cmdCtx *commandContext, timeout time.Duration, f func(context.Context, *infra) error) error {
	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cfg := adminConfig(cmdCtx.Config)
	dbCfg := bootstrap.DatabaseConfig{DBConfig: cfg.Postgres, RedisConfig: cfg.Redis, Logger: cmdCtx.Logger}

	in := &infra{}
	defer func() {
		if cerr := in.Close(); cerr != nil {
			cmdCtx.Logger.Warn("close infrastructure failed", "error", cerr)
		}
	}()

	var err error
	if in.DB, err = bootstrap.ConnectDB(dbCfg); err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	if in.Redis, err = bootstrap.ConnectRedis(dbCfg); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	in.Services, err = bootstrap.NewServices(ctx, &bootstrap.ServiceDeps{
		Config:      &cfg,
		DB:          in.DB,
		RedisClient: in.Redis,
		Logger:      cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("build services: %w", err)
	}

	return f(ctx, in)
}
