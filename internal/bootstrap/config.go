package bootstrap

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"github.com/target/bms-ingest/config"
)

// InitLogger builds the process logger from config and installs it as the
// slog default. Dev mode and LOG_FORMAT=console use the colored tint handler.
func InitLogger(cfg config.LoggingConfig, isDev bool) *slog.Logger {
	logger := NewLogger(os.Stdout, cfg, isDev)
	slog.SetDefault(logger)
	return logger
}

// NewLogger builds a logger writing to w.
func NewLogger(w io.Writer, cfg config.LoggingConfig, isDev bool) *slog.Logger {
	level := cfg.SlogLevel()
	if isDev || cfg.Format == "console" {
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
		}))
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (config.AppConfig, error) {
	// Load .env file if it exists (development)
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return config.AppConfig{}, fmt.Errorf("load .env file: %w", err)
		}
	}

	var cfg config.AppConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	cfg.Sanitize()
	return cfg, nil
}

// ValidateServiceConfig validates that at least one service is enabled and
// that the chosen backends have what they need.
func ValidateServiceConfig(cfg *config.AppConfig) error {
	if cfg == nil {
		return errors.New("service config is required")
	}
	services, err := cfg.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("invalid service configuration: %w", err)
	}

	if len(services) == 0 {
		return errors.New("no services enabled")
	}

	if cfg.Queue.Backend == config.QueueBackendRedis && !cfg.Redis.Enabled() {
		return errors.New("QUEUE_BACKEND=redis requires REDIS_URI, sentinel or cluster configuration")
	}
	if cfg.Breaker.Store == config.BreakerStoreRedis && !cfg.Redis.Enabled() {
		return errors.New("BREAKER_STORE=redis requires REDIS_URI, sentinel or cluster configuration")
	}
	// A process-local queue cannot hand work to a worker in another process.
	if cfg.Queue.Backend == config.QueueBackendLocal && services[config.ServiceModeHTTP] && !services[config.ServiceModeWorker] {
		return errors.New("QUEUE_BACKEND=local requires the worker service alongside http")
	}
	if cfg.Provider.URL == "" && !cfg.IsDev && services[config.ServiceModeWorker] {
		return errors.New("PROVIDER_URL is required outside dev mode")
	}

	return nil
}

// GetEnabledServices returns a list of enabled service names.
func GetEnabledServices(cfg *config.AppConfig) []string {
	if cfg == nil {
		return []string{}
	}
	services, err := cfg.GetEnabledServices()
	if err != nil {
		// Return empty list on error - validation will catch this
		return []string{}
	}

	enabledServices := make([]string, 0, len(services))
	for _, mode := range config.ValidServiceModes() {
		if services[mode] {
			enabledServices = append(enabledServices, string(mode))
		}
	}

	return enabledServices
}
