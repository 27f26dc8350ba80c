package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/target/bms-ingest/config"
	"github.com/target/bms-ingest/internal/adapters/provider"
	"github.com/target/bms-ingest/internal/breaker"
	"github.com/target/bms-ingest/internal/core"
	"github.com/target/bms-ingest/internal/data"
	"github.com/target/bms-ingest/internal/dedupe"
	"github.com/target/bms-ingest/internal/observability/metrics"
	"github.com/target/bms-ingest/internal/observability/tracing"
	"github.com/target/bms-ingest/internal/queue"
	"github.com/target/bms-ingest/internal/retry"
	"github.com/target/bms-ingest/internal/service"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Jobs        *service.JobService
	Dispatcher  *service.Dispatcher
	Worker      *service.Worker
	Aggregator  *service.BatchAggregator
	Feedback    *service.FeedbackService
	Breakers    *breaker.Registry
	StatusCache *core.StatusCacheService
	// Queue is owned by the container; Close releases it.
	Queue queue.Queue
	// JobRepo backs the reaper.
	JobRepo       *data.JobRepo
	Observability ObservabilityContainer
}

// Close releases resources owned by the container.
func (c ServiceContainer) Close() error {
	if c.Queue == nil {
		return nil
	}
	return c.Queue.Close()
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink metrics.Sink
	Tracer      *tracing.Tracer
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// serviceRepositories groups data adapters backing service ports.
type serviceRepositories struct {
	DB           *sql.DB
	Redis        redis.UniversalClient
	JobRepo      *data.JobRepo
	BatchRepo    *data.BatchRepo
	RecordRepo   *data.AnalysisRecordRepo
	FeedbackRepo *data.FeedbackRepo
	// CacheRepo is nil without Redis.
	CacheRepo core.CacheRepository
}

// buildObservability configures the metrics sink and tracer from the global
// OpenTelemetry providers.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obs := ObservabilityContainer{
		MetricsSink: metrics.NopSink{},
		Tracer:      tracing.Noop(),
	}
	if cfg.MetricsEnabled {
		obs.MetricsSink = metrics.NewOTelSink(otel.GetMeterProvider(), map[string]string{
			"service": cfg.ServiceName,
		})
	}
	if cfg.TracingEnabled {
		obs.Tracer = tracing.New(otel.GetTracerProvider())
	}
	logger.Info("observability configured",
		"metrics", cfg.MetricsEnabled,
		"tracing", cfg.TracingEnabled,
		"service_name", cfg.ServiceName)
	return obs
}

// buildRepositories builds repositories backing service ports; no business rules here.
func buildRepositories(db *sql.DB, rdb redis.UniversalClient, cfg *config.AppConfig, logger *slog.Logger) *serviceRepositories {
	repos := &serviceRepositories{
		DB:           db,
		Redis:        rdb,
		JobRepo:      data.NewJobRepo(db, data.RepoConfig{Logger: logger}),
		BatchRepo:    data.NewBatchRepo(db, nil),
		RecordRepo:   data.NewAnalysisRecordRepo(db),
		FeedbackRepo: data.NewFeedbackRepo(db, nil),
	}
	if rdb != nil {
		repos.CacheRepo = data.NewRedisCacheRepo(rdb, cfg.Cache.Prefix)
	}
	return repos
}

// storeRetryPolicy turns STORE_RETRY_* into the policy wrapped around every
// repository call.
func storeRetryPolicy(cfg config.StoreConfig, logger *slog.Logger) retry.Policy {
	p := retry.Policy{
		MaxRetries:   cfg.RetryMax,
		InitialDelay: cfg.RetryInitialDelay,
		MaxDelay:     cfg.RetryMaxDelay,
		Logger:       logger,
	}
	if cfg.RetryMax == 0 {
		return p.NoRetries()
	}
	return p
}

func providerRetryPolicy(cfg config.WorkerConfig, logger *slog.Logger) retry.Policy {
	p := retry.Policy{
		Op:         "provider.analyze",
		MaxRetries: cfg.ProviderRetries,
		Logger:     logger,
	}
	if cfg.ProviderRetries == 0 {
		return p.NoRetries()
	}
	return p
}

func newBreakerRegistry(
	cfg config.BreakerConfig,
	rdb redis.UniversalClient,
	obs ObservabilityContainer,
	logger *slog.Logger,
) *breaker.Registry {
	var store core.BreakerStateStore
	if cfg.Store == config.BreakerStoreRedis && rdb != nil {
		store = data.NewRedisBreakerStore(rdb, data.RedisBreakerStoreOptions{
			Prefix: cfg.Prefix,
			TTL:    cfg.TTL,
		})
	}
	return breaker.NewRegistry(breaker.Options{
		Store:     store,
		Threshold: cfg.Threshold,
		Cooldown:  cfg.Cooldown,
		Logger:    logger,
		Metrics:   obs.MetricsSink,
	})
}

// newTaskQueue picks the Redis Streams queue when configured, otherwise the
// in-process channel queue.
//
//nolint:ireturn // the backend is chosen at runtime.
func newTaskQueue(
	ctx context.Context,
	cfg config.QueueConfig,
	rdb redis.UniversalClient,
	logger *slog.Logger,
) (queue.Queue, error) {
	if cfg.Backend != config.QueueBackendRedis {
		return queue.NewLocal(cfg.Buffer), nil
	}
	if rdb == nil {
		return nil, errors.New("redis queue backend requires a redis client")
	}
	q, err := queue.NewStreams(ctx, rdb, queue.StreamsOptions{
		Stream:    cfg.Stream,
		Group:     cfg.Group,
		Consumer:  consumerName(cfg.Consumer),
		ClaimIdle: cfg.ClaimIdle,
		MaxLen:    cfg.MaxLen,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create redis streams queue: %w", err)
	}
	return q, nil
}

func consumerName(configured string) string {
	if configured != "" {
		return configured
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "-" + strconv.Itoa(os.Getpid())
}

// newAnalysisProvider returns the HTTP provider, or the echo provider in dev
// mode when no URL is configured.
//
//nolint:ireturn // provider is chosen at runtime.
func newAnalysisProvider(cfg *config.AppConfig, logger *slog.Logger) (core.AnalysisProvider, error) {
	if cfg.Provider.URL == "" {
		if !cfg.IsDev {
			return nil, errors.New("PROVIDER_URL is required outside dev mode")
		}
		logger.Warn("PROVIDER_URL not set; using echo analysis provider")
		return provider.Echo{}, nil
	}
	p, err := provider.NewHTTP(provider.HTTPConfig{
		Name:             cfg.Provider.Name,
		URL:              cfg.Provider.URL,
		APIKey:           cfg.Provider.APIKey,
		ResultExpression: cfg.Provider.ResultExpression,
		Timeout:          cfg.Worker.ProviderTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("build analysis provider: %w", err)
	}
	return p, nil
}

type DomainServicesOptions struct {
	Repos         *serviceRepositories
	Observability ObservabilityContainer
	Queue         queue.Queue
	Breakers      *breaker.Registry
	Provider      core.AnalysisProvider
	Config        *config.AppConfig
	Logger        *slog.Logger
}

// buildDomainServices wires business services using repositories and observability adapters.
func buildDomainServices(opts *DomainServicesOptions) (ServiceContainer, error) {
	appCfg := opts.Config
	logger := opts.Logger
	obs := opts.Observability
	storeRetry := storeRetryPolicy(appCfg.Store, logger)

	var statusCache *core.StatusCacheService
	if opts.Repos.CacheRepo != nil {
		statusCache = core.NewStatusCacheService(core.StatusCacheServiceOptions{
			Cache: opts.Repos.CacheRepo,
			Jobs:  opts.Repos.JobRepo,
			Config: core.StatusCacheConfig{
				TTL:        appCfg.Cache.StatusTTL,
				KickoffTTL: appCfg.Cache.KickoffTTL,
			},
		})
	}

	aggregator, err := service.NewBatchAggregator(service.BatchAggregatorOptions{
		Batches: opts.Repos.BatchRepo,
		Jobs:    opts.Repos.JobRepo,
		Config: service.BatchAggregatorConfig{
			ConflictAttempts: appCfg.Batch.ConflictAttempts,
			ConflictBackoff:  appCfg.Batch.ConflictBackoff,
			StoreRetry:       storeRetry,
		},
		Logger:  logger,
		Metrics: obs.MetricsSink,
		Tracer:  obs.Tracer,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("batch aggregator: %w", err)
	}

	detector := dedupe.NewDetector(dedupe.Options{
		History:             opts.Repos.RecordRepo,
		Feedback:            opts.Repos.FeedbackRepo,
		SimilarityThreshold: appCfg.Duplicate.SimilarityThreshold,
		SemanticEnabled:     appCfg.Duplicate.SemanticEnabled,
		CandidateLimit:      appCfg.Duplicate.CandidateLimit,
		Retry:               storeRetry,
		Logger:              logger,
	})

	dispatcher, err := service.NewDispatcher(service.DispatcherOptions{
		Jobs:       opts.Repos.JobRepo,
		Detector:   detector,
		Producer:   opts.Queue,
		Breakers:   opts.Breakers,
		Notifier:   aggregator,
		StoreRetry: storeRetry,
		// One sweep later the job is due again.
		OverflowDelay: appCfg.Worker.RetrySweepInterval,
		Logger:        logger,
		Metrics:       obs.MetricsSink,
		Tracer:        obs.Tracer,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("dispatcher: %w", err)
	}

	jobs, err := service.NewJobService(service.JobServiceOptions{
		Jobs:     opts.Repos.JobRepo,
		Batches:  opts.Repos.BatchRepo,
		Producer: opts.Queue,
		Breakers: opts.Breakers,
		Status:   statusCache,
		Config: service.JobServiceConfig{
			RedeliveryGrace: appCfg.Worker.RedeliveryGrace,
			SweepLimit:      appCfg.Worker.RetrySweepBatch,
			StoreRetry:      storeRetry,
		},
		Logger:  logger,
		Metrics: obs.MetricsSink,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("job service: %w", err)
	}

	feedback, err := service.NewFeedbackService(service.FeedbackServiceOptions{
		Repo:       opts.Repos.FeedbackRepo,
		Detector:   detector,
		StoreRetry: storeRetry,
		Logger:     logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("feedback service: %w", err)
	}

	var worker *service.Worker
	if opts.Provider != nil {
		worker, err = service.NewWorker(service.WorkerOptions{
			Jobs:     opts.Repos.JobRepo,
			Provider: opts.Provider,
			Breakers: opts.Breakers,
			Notifier: aggregator,
			Cache:    statusCache,
			Config: service.WorkerConfig{
				MaxRetryCount:   appCfg.Jobs.MaxRetryCount,
				RetryBaseDelay:  appCfg.Jobs.RetryBaseDelay,
				ProviderTimeout: appCfg.Worker.ProviderTimeout,
				ProviderRetry:   providerRetryPolicy(appCfg.Worker, logger),
				StoreRetry:      storeRetry,
			},
			Logger:  logger,
			Metrics: obs.MetricsSink,
			Tracer:  obs.Tracer,
		})
		if err != nil {
			return ServiceContainer{}, fmt.Errorf("worker: %w", err)
		}
	}

	return ServiceContainer{
		Jobs:          jobs,
		Dispatcher:    dispatcher,
		Worker:        worker,
		Aggregator:    aggregator,
		Feedback:      feedback,
		Breakers:      opts.Breakers,
		StatusCache:   statusCache,
		Queue:         opts.Queue,
		JobRepo:       opts.Repos.JobRepo,
		Observability: obs,
	}, nil
}

// NewServices builds the service graph. The worker is only built when the
// worker service is enabled, so HTTP-only processes need no provider.
func NewServices(ctx context.Context, deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service deps with config are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config

	observability := buildObservability(logger, cfg.Observability)
	repos := buildRepositories(deps.DB, deps.RedisClient, cfg, logger)
	breakers := newBreakerRegistry(cfg.Breaker, deps.RedisClient, observability, logger)

	var analysisProvider core.AnalysisProvider
	if cfg.IsWorkerEnabled() {
		p, err := newAnalysisProvider(cfg, logger)
		if err != nil {
			return ServiceContainer{}, err
		}
		analysisProvider = p
	}

	taskQueue, err := newTaskQueue(ctx, cfg.Queue, deps.RedisClient, logger)
	if err != nil {
		return ServiceContainer{}, err
	}

	services, err := buildDomainServices(&DomainServicesOptions{
		Repos:         repos,
		Observability: observability,
		Queue:         taskQueue,
		Breakers:      breakers,
		Provider:      analysisProvider,
		Config:        cfg,
		Logger:        logger,
	})
	if err != nil {
		if cerr := taskQueue.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close queue: %w", cerr))
		}
		return ServiceContainer{}, err
	}
	return services, nil
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

const (
	// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
	shutdownWaitTimeout = 15 * time.Second
)

// serviceStartupDeps groups dependencies for service startup.
type serviceStartupDeps struct {
	ctx             context.Context
	cfg             *ServiceOrchestrationConfig
	logger          *slog.Logger
	enabledServices map[config.ServiceMode]bool
	errCh           chan error
}

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	mode config.ServiceMode
	name string
	done <-chan struct{}
}

// startHTTPServerIfEnabled starts the HTTP server if enabled.
func startHTTPServerIfEnabled(deps *serviceStartupDeps) *http.Server {
	if deps == nil || deps.cfg == nil || !deps.enabledServices[config.ServiceModeHTTP] {
		return nil
	}
	return StartHTTPServer(&HTTPServerConfig{
		Config:      deps.cfg.Config,
		Services:    deps.cfg.Services,
		DB:          deps.cfg.DB,
		RedisClient: deps.cfg.RedisClient,
		Logger:      deps.logger,
		ErrCh:       deps.errCh,
	})
}

func launchBackground(ctx context.Context, deps *serviceStartupDeps, descriptor backgroundService) <-chan struct{} {
	if deps == nil || !deps.enabledServices[descriptor.mode] {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case deps.errCh <- errMsg:
			case <-ctx.Done():
			default:
				deps.logger.WarnContext(ctx, "dropping background service error",
					"service", descriptor.name,
					"error", errMsg)
			}
		}
	}()

	deps.logger.InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)
	return done
}

func startBackgroundServices(deps *serviceStartupDeps, services []backgroundService) []backgroundServiceHandle {
	if deps == nil {
		return nil
	}
	handles := make([]backgroundServiceHandle, 0, len(services))

	for _, svc := range services {
		done := launchBackground(deps.ctx, deps, svc)
		if done == nil {
			continue
		}

		handles = append(handles, backgroundServiceHandle{
			mode: svc.mode,
			name: svc.name,
			done: done,
		})
	}

	return handles
}

func newWorkerBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeWorker,
		name: "worker pool",
		start: func(ctx context.Context) error {
			svc := deps.cfg.Services
			workerCfg := deps.cfg.Config.Worker
			return RunWorkerPool(ctx, WorkerPoolConfig{
				Consumer:      svc.Queue,
				Worker:        svc.Worker,
				Sweeper:       svc.Jobs,
				Concurrency:   workerCfg.Concurrency,
				Pace:          workerCfg.Pace,
				SweepInterval: workerCfg.RetrySweepInterval,
				Logger:        deps.logger,
				Metrics:       svc.Observability.MetricsSink,
			})
		},
	}
}

func newReaperBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeReaper,
		name: "reaper",
		start: func(ctx context.Context) error {
			svc := deps.cfg.Services
			return RunReaper(ctx, ReaperConfig{
				DB:         deps.cfg.DB,
				Repo:       svc.JobRepo,
				Config:     deps.cfg.Config.Reaper,
				Notifier:   svc.Aggregator,
				MaxRetries: deps.cfg.Config.Jobs.MaxRetryCount,
				Logger:     deps.logger,
				Metrics:    svc.Observability.MetricsSink,
			})
		},
	}
}

func buildBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	if deps == nil {
		return nil
	}
	return []backgroundService{
		newWorkerBackgroundService(deps),
		newReaperBackgroundService(deps),
	}
}

// ServiceStartupResult holds the results of starting all services.
type ServiceStartupResult struct {
	HTTPServer *http.Server
	Background []backgroundServiceHandle
}

// startServices starts all enabled services and returns their completion channels.
func startServices(deps *serviceStartupDeps) ServiceStartupResult {
	return ServiceStartupResult{
		HTTPServer: startHTTPServerIfEnabled(deps),
		Background: startBackgroundServices(deps, buildBackgroundServices(deps)),
	}
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}
	serviceCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Determine which services are enabled
	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}
	if enabledServices[config.ServiceModeWorker] && cfg.Services.Worker == nil {
		return errors.New("worker service enabled but no worker was built")
	}
	errCh := make(chan error, errorChannelBufferSize(enabledServices))

	// Start all enabled services
	result := startServices(&serviceStartupDeps{
		ctx:             serviceCtx,
		cfg:             cfg,
		logger:          logger,
		enabledServices: enabledServices,
		errCh:           errCh,
	})

	// Wait for shutdown signal or error
	return waitForShutdown(shutdownConfig{
		cancel:      cancel,
		errCh:       errCh,
		httpServer:  result.HTTPServer,
		httpTimeout: cfg.Config.HTTP.ShutdownTimeout,
		logger:      logger,
		backgrounds: result.Background,
	})
}

func errorChannelCapacity(enabled map[config.ServiceMode]bool) int {
	count := 0
	for _, mode := range config.ValidServiceModes() {
		if enabled[mode] {
			count++
		}
	}
	return count
}

func errorChannelBufferSize(enabled map[config.ServiceMode]bool) int {
	return errorChannelCapacity(enabled) + 1
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	cancel      context.CancelFunc
	errCh       <-chan error
	httpServer  *http.Server
	httpTimeout time.Duration
	logger      *slog.Logger
	backgrounds []backgroundServiceHandle
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		return gracefulStop(cfg)
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		if stopErr := gracefulStop(cfg); stopErr != nil {
			cfg.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}

// gracefulStop drains HTTP first so no new jobs are dispatched, then cancels
// background services and waits for in-flight jobs.
func gracefulStop(cfg shutdownConfig) error {
	var httpErr error
	if cfg.httpServer != nil {
		httpErr = ShutdownHTTPServer(ShutdownConfig{
			Context: context.Background(),
			Server:  cfg.httpServer,
			Timeout: cfg.httpTimeout,
			Logger:  cfg.logger,
		})
	}

	cfg.cancel()
	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger)
	}

	return httpErr
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}
