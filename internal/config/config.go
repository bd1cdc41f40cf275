// Package config defines client configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Durations are expressed in milliseconds so env vars stay plain integers.
// - Validation errors wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log handler: text, json or console.
	LogFormat string `koanf:"log_format"`

	// QueryURL is the base URL of the read side (list endpoints).
	QueryURL string `koanf:"query_url"`

	// CommandURL is the base URL of the write side (mutations and /auth/token).
	CommandURL string `koanf:"command_url"`

	// RequestTimeoutMS bounds every outgoing HTTP request.
	RequestTimeoutMS int `koanf:"request_timeout_ms"`

	// ReconcileDelayMS is the wait before the authoritative refresh that follows a mutation.
	ReconcileDelayMS int `koanf:"reconcile_delay_ms"`

	// VerifyDelayMS is the wait before the registration verification read.
	VerifyDelayMS int `koanf:"verify_delay_ms"`

	// AuthRetryAttempts, AuthRetryDelayMS and AuthRetryBackoff shape the credential handshake retries.
	AuthRetryAttempts int     `koanf:"auth_retry_attempts"`
	AuthRetryDelayMS  int     `koanf:"auth_retry_delay_ms"`
	AuthRetryBackoff  float64 `koanf:"auth_retry_backoff"`

	// RefreshWorkers sets the number of reconciliation workers.
	RefreshWorkers int `koanf:"refresh_workers"`

	// RefreshQueueSize bounds the in-memory reconciliation task queue.
	RefreshQueueSize int `koanf:"refresh_queue_size"`

	// MetricsAddr exposes /metrics when non-empty, e.g. ":9090".
	MetricsAddr string `koanf:"metrics_addr"`

	// BackendAddr is the listen address of the mock backend.
	BackendAddr string `koanf:"backend_addr"`

	// BackendLagMS delays read-side visibility of writes in the mock backend.
	BackendLagMS int `koanf:"backend_lag_ms"`

	// JWTSecret signs mock backend tokens.
	JWTSecret string `koanf:"jwt_secret"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:          "info",
		LogFormat:         "text",
		QueryURL:          "http://localhost:8081",
		CommandURL:        "http://localhost:8081",
		RequestTimeoutMS:  10_000,
		ReconcileDelayMS:  1_000,
		VerifyDelayMS:     1_000,
		AuthRetryAttempts: 3,
		AuthRetryDelayMS:  500,
		AuthRetryBackoff:  1.5,
		RefreshWorkers:    2,
		RefreshQueueSize:  64,
		BackendAddr:       ":8081",
		BackendLagMS:      300,
		JWTSecret:         "dev-shared-secret-change-me",
	}
}

// RequestTimeout returns RequestTimeoutMS as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

// ReconcileDelay returns ReconcileDelayMS as a duration.
func (c *Config) ReconcileDelay() time.Duration {
	return time.Duration(c.ReconcileDelayMS) * time.Millisecond
}

// VerifyDelay returns VerifyDelayMS as a duration.
func (c *Config) VerifyDelay() time.Duration {
	return time.Duration(c.VerifyDelayMS) * time.Millisecond
}

// AuthRetryDelay returns AuthRetryDelayMS as a duration.
func (c *Config) AuthRetryDelay() time.Duration {
	return time.Duration(c.AuthRetryDelayMS) * time.Millisecond
}

// BackendLag returns BackendLagMS as a duration.
func (c *Config) BackendLag() time.Duration {
	return time.Duration(c.BackendLagMS) * time.Millisecond
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	for name, raw := range map[string]string{"query_url": c.QueryURL, "command_url": c.CommandURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: %s must be an absolute URL, got %q", ErrInvalidConfig, name, raw)
		}
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json", "console":
	default:
		return fmt.Errorf("%w: unknown log_format %q", ErrInvalidConfig, c.LogFormat)
	}
	switch {
	case c.RequestTimeoutMS <= 0:
		return fmt.Errorf("%w: request_timeout_ms must be positive", ErrInvalidConfig)
	case c.ReconcileDelayMS < 0 || c.VerifyDelayMS < 0 || c.BackendLagMS < 0:
		return fmt.Errorf("%w: delays must not be negative", ErrInvalidConfig)
	case c.AuthRetryAttempts < 1:
		return fmt.Errorf("%w: auth_retry_attempts must be at least 1", ErrInvalidConfig)
	case c.AuthRetryBackoff < 1:
		return fmt.Errorf("%w: auth_retry_backoff must be >= 1", ErrInvalidConfig)
	case c.RefreshWorkers < 1 || c.RefreshQueueSize < 1:
		return fmt.Errorf("%w: refresh_workers and refresh_queue_size must be positive", ErrInvalidConfig)
	}
	return nil
}
