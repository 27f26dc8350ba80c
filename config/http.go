package config

import "time"

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// RateLimitRPS is the per-client request rate; zero disables limiting.
	RateLimitRPS float64 `env:"HTTP_RATE_LIMIT_RPS" envDefault:"20"`

	// RateLimitBurst is the per-client burst size.
	RateLimitBurst int `env:"HTTP_RATE_LIMIT_BURST" envDefault:"40"`

	// MaxBodyBytes bounds request bodies (dispatch payloads carry base64 images).
	MaxBodyBytes int64 `env:"HTTP_MAX_BODY_BYTES" envDefault:"52428800"`

	// CompressionEnabled gzips JSON responses for clients that accept it.
	CompressionEnabled bool `env:"HTTP_COMPRESSION_ENABLED" envDefault:"true"`

	// CompressionLevel is the gzip level (1-9).
	CompressionLevel int `env:"HTTP_COMPRESSION_LEVEL" envDefault:"5"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	if h.RateLimitRPS < 0 {
		h.RateLimitRPS = 0
	}
	if h.RateLimitBurst < 1 {
		h.RateLimitBurst = 1
	}
	if h.MaxBodyBytes < 1<<20 {
		h.MaxBodyBytes = 1 << 20
	}
	if h.CompressionLevel < 1 || h.CompressionLevel > 9 {
		h.CompressionLevel = 5
	}
	if h.ShutdownTimeout <= 0 {
		h.ShutdownTimeout = 15 * time.Second
	}
}
