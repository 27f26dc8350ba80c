package config

import (
	"log/slog"
	"strings"
)

const defaultObservabilityName = "bms-ingest"

// ObservabilityConfig groups configuration that controls logging and telemetry.
type ObservabilityConfig struct {
	ServiceName string `env:"OBSERVABILITY_SERVICE_NAME" envDefault:"bms-ingest"`
	Logging     LoggingConfig
	// MetricsEnabled routes pipeline metrics to the global OpenTelemetry meter provider.
	MetricsEnabled bool `env:"OBSERVABILITY_METRICS_ENABLED" envDefault:"true"`
	// TracingEnabled starts spans through the global OpenTelemetry tracer provider.
	TracingEnabled bool `env:"OBSERVABILITY_TRACING_ENABLED" envDefault:"true"`
}

// Sanitize applies guardrails to observability sub-configs.
func (c *ObservabilityConfig) Sanitize() {
	c.ServiceName = strings.TrimSpace(c.ServiceName)
	if c.ServiceName == "" {
		c.ServiceName = defaultObservabilityName
	}
	c.Logging.Sanitize()
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `env:"LOG_LEVEL" envDefault:"info"`
	// Format is json or console.
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

// Sanitize normalises logging configuration values.
func (c *LoggingConfig) Sanitize() {
	c.Level = strings.ToLower(strings.TrimSpace(c.Level))
	c.Format = strings.ToLower(strings.TrimSpace(c.Format))
	if c.Format != "console" {
		c.Format = "json"
	}
}

// SlogLevel maps Level to a slog.Level, defaulting to info.
func (c LoggingConfig) SlogLevel() slog.Level {
	switch c.Level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
