package bootstrap

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/bms-ingest/config"
	"github.com/target/bms-ingest/internal/adapters/provider"
	"github.com/target/bms-ingest/internal/domain/model"
	httpx "github.com/target/bms-ingest/internal/http"
	"github.com/target/bms-ingest/internal/queue"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testConfig(t *testing.T, services string) *config.AppConfig {
	t.Helper()
	t.Setenv("SERVICES", services)
	t.Setenv("DEV", "true")
	t.Setenv("PROVIDER_URL", "")
	t.Setenv("QUEUE_BACKEND", "local")
	t.Setenv("BREAKER_STORE", "memory")
	t.Setenv("OBSERVABILITY_METRICS_ENABLED", "false")
	t.Setenv("OBSERVABILITY_TRACING_ENABLED", "false")

	var cfg config.AppConfig
	require.NoError(t, env.Parse(&cfg))
	cfg.Sanitize()
	return &cfg
}

func TestErrorChannelCapacity(t *testing.T) {
	tests := []struct {
		name  string
		modes []config.ServiceMode
		want  int
	}{
		{name: "no services enabled", want: 0},
		{name: "http only", modes: []config.ServiceMode{config.ServiceModeHTTP}, want: 1},
		{name: "http and worker", modes: []config.ServiceMode{config.ServiceModeHTTP, config.ServiceModeWorker}, want: 2},
		{name: "all services enabled", modes: config.ValidServiceModes(), want: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enabled := make(map[config.ServiceMode]bool, len(tt.modes))
			for _, mode := range tt.modes {
				enabled[mode] = true
			}

			assert.Equal(t, tt.want, errorChannelCapacity(enabled))
			assert.Equal(t, tt.want+1, errorChannelBufferSize(enabled))
		})
	}
}

func TestGetEnabledServices(t *testing.T) {
	cfg := &config.AppConfig{Services: "reaper, http"}
	assert.Equal(t, []string{"http", "reaper"}, GetEnabledServices(cfg))

	assert.Empty(t, GetEnabledServices(&config.AppConfig{Services: "scheduler"}))
	assert.Empty(t, GetEnabledServices(nil))
}

func TestValidateServiceConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.AppConfig)
		wantErr string
	}{
		{name: "defaults in dev", mutate: func(*config.AppConfig) {}},
		{
			name:    "unknown service",
			mutate:  func(c *config.AppConfig) { c.Services = "http,scheduler" },
			wantErr: "invalid service configuration",
		},
		{
			name:    "redis queue without redis",
			mutate:  func(c *config.AppConfig) { c.Queue.Backend = config.QueueBackendRedis },
			wantErr: "QUEUE_BACKEND=redis",
		},
		{
			name:    "redis breaker store without redis",
			mutate:  func(c *config.AppConfig) { c.Breaker.Store = config.BreakerStoreRedis },
			wantErr: "BREAKER_STORE=redis",
		},
		{
			name:    "local queue without worker",
			mutate:  func(c *config.AppConfig) { c.Services = "http" },
			wantErr: "requires the worker service",
		},
		{
			name:    "no provider outside dev",
			mutate:  func(c *config.AppConfig) { c.IsDev = false },
			wantErr: "PROVIDER_URL",
		},
		{
			name: "redis queue with redis",
			mutate: func(c *config.AppConfig) {
				c.Services = "http"
				c.Queue.Backend = config.QueueBackendRedis
				c.Redis.URI = "redis://localhost:6379"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, "http,worker,reaper")
			tt.mutate(cfg)

			err := ValidateServiceConfig(cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	require.Error(t, ValidateServiceConfig(nil))
}

func TestNewLogger(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(&buf, config.LoggingConfig{Level: "info", Format: "json"}, false)
		logger.Debug("hidden")
		logger.Info("visible", "job_id", "j-1")

		out := buf.String()
		assert.NotContains(t, out, "hidden")
		assert.Contains(t, out, `"msg":"visible"`)
		assert.Contains(t, out, `"job_id":"j-1"`)
	})

	t.Run("dev uses console output", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(&buf, config.LoggingConfig{Level: "debug", Format: "json"}, true)
		logger.Debug("shown")

		out := buf.String()
		assert.Contains(t, out, "shown")
		assert.False(t, strings.HasPrefix(out, "{"), out)
	})
}

func TestStoreRetryPolicy(t *testing.T) {
	p := storeRetryPolicy(config.StoreConfig{RetryMax: 0}, nil)
	assert.Equal(t, -1, p.MaxRetries)

	p = storeRetryPolicy(config.StoreConfig{RetryMax: 4, RetryInitialDelay: 5, RetryMaxDelay: 50}, nil)
	assert.Equal(t, 4, p.MaxRetries)
	assert.EqualValues(t, 5, p.InitialDelay)
	assert.EqualValues(t, 50, p.MaxDelay)

	assert.Equal(t, -1, providerRetryPolicy(config.WorkerConfig{}, nil).MaxRetries)
	assert.Equal(t, 2, providerRetryPolicy(config.WorkerConfig{ProviderRetries: 2}, nil).MaxRetries)
}

func TestNewServicesLocal(t *testing.T) {
	cfg := testConfig(t, "http,worker,reaper")

	svc, err := NewServices(context.Background(), &ServiceDeps{Config: cfg})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	assert.NotNil(t, svc.Dispatcher)
	assert.NotNil(t, svc.Jobs)
	assert.NotNil(t, svc.Aggregator)
	assert.NotNil(t, svc.Feedback)
	assert.NotNil(t, svc.Worker)
	assert.Nil(t, svc.StatusCache, "no status cache without redis")
	assert.IsType(t, &queue.Local{}, svc.Queue)
	assert.Equal(t, cfg.Breaker.Threshold, svc.Breakers.Threshold())

	require.NoError(t, svc.Queue.Enqueue(context.Background(), model.TaskMessage{JobID: "j-1"}))
}

func TestNewServicesWithoutWorker(t *testing.T) {
	cfg := testConfig(t, "reaper")
	cfg.IsDev = false

	svc, err := NewServices(context.Background(), &ServiceDeps{Config: cfg})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	assert.Nil(t, svc.Worker)
}

func TestNewServicesRequiresProviderOutsideDev(t *testing.T) {
	cfg := testConfig(t, "worker")
	cfg.IsDev = false

	_, err := NewServices(context.Background(), &ServiceDeps{Config: cfg})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PROVIDER_URL")
}

func TestNewAnalysisProvider(t *testing.T) {
	cfg := testConfig(t, "worker")

	p, err := newAnalysisProvider(cfg, testLogger())
	require.NoError(t, err)
	assert.IsType(t, provider.Echo{}, p)

	cfg.Provider.URL = "http://vision.internal/analyze"
	p, err = newAnalysisProvider(cfg, testLogger())
	require.NoError(t, err)
	assert.Equal(t, cfg.Provider.Name, p.Name())
}

func TestNewTaskQueueRedisRequiresClient(t *testing.T) {
	_, err := newTaskQueue(context.Background(), config.QueueConfig{Backend: config.QueueBackendRedis}, nil, testLogger())
	require.Error(t, err)
}

func TestConsumerName(t *testing.T) {
	assert.Equal(t, "w-7", consumerName("w-7"))
	assert.NotEmpty(t, consumerName(""))
}

func TestBuildHTTPHandler(t *testing.T) {
	h := buildHTTPHandler(httpHandlerConfig{
		Logger: testLogger(),
		Services: httpx.RouterServices{
			Ready:  map[string]httpx.ReadinessCheck{"postgres": func(context.Context) error { return nil }},
			Logger: testLogger(),
		},
		HTTP: config.HTTPConfig{RateLimitRPS: 1, RateLimitBurst: 2, CompressionEnabled: true, CompressionLevel: 5},
	})

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestReadinessChecks(t *testing.T) {
	assert.Empty(t, readinessChecks(nil, nil))
}

func TestShutdownHTTPServerNil(t *testing.T) {
	require.NoError(t, ShutdownHTTPServer(ShutdownConfig{}))
}
