// Package config loads the service configuration: programmatic
// defaults, overlaid by an optional JSON file, overlaid by CRONMASTER_*
// environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full service configuration.
type Config struct {
	DatabaseURL string `json:"database_url"`
	ListenAddr  string `json:"listen_addr"`
	LogLevel    string `json:"log_level"`

	RequestTimeoutMS        int    `json:"request_timeout_ms"`
	ResponseBodyLimitBytes  int    `json:"response_body_limit_bytes"`
	ExecutionRetentionDays  int    `json:"execution_retention_days"`
	ReconcileIntervalMS     int    `json:"reconcile_interval_ms"`
	PruneIntervalMS         int    `json:"prune_interval_ms"`
	ShutdownDrainDeadlineMS int    `json:"shutdown_drain_deadline_ms"`
	UserAgent               string `json:"user_agent"`
	MaxConcurrentFirings    int    `json:"max_concurrent_firings"`

	OTLPEndpoint string `json:"otlp_endpoint"`
	OTLPProtocol string `json:"otlp_protocol"`
	OTLPInsecure bool   `json:"otlp_insecure"`
}

// maxDrainMS is the hard cap on the shutdown drain deadline.
const maxDrainMS = 30000

// Default returns the production defaults.
func Default() *Config {
	return &Config{
		DatabaseURL:             "cronmaster.db",
		ListenAddr:              ":8080",
		LogLevel:                "info",
		RequestTimeoutMS:        30000,
		ResponseBodyLimitBytes:  10240,
		ExecutionRetentionDays:  30,
		ReconcileIntervalMS:     300000,
		PruneIntervalMS:         3600000,
		ShutdownDrainDeadlineMS: 30000,
		UserAgent:               "CronMaster/1.0",
		MaxConcurrentFirings:    0,
	}
}

// Load builds the effective config. path may be empty or point at a
// missing file; both fall back to defaults before env overrides apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults apply.
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays CRONMASTER_* environment variables. Env always
// wins over file values.
func (c *Config) applyEnv() {
	envStr("CRONMASTER_DATABASE_URL", &c.DatabaseURL)
	envStr("CRONMASTER_LISTEN_ADDR", &c.ListenAddr)
	envStr("CRONMASTER_LOG_LEVEL", &c.LogLevel)
	envInt("CRONMASTER_REQUEST_TIMEOUT_MS", &c.RequestTimeoutMS)
	envInt("CRONMASTER_RESPONSE_BODY_LIMIT_BYTES", &c.ResponseBodyLimitBytes)
	envInt("CRONMASTER_EXECUTION_RETENTION_DAYS", &c.ExecutionRetentionDays)
	envInt("CRONMASTER_RECONCILE_INTERVAL_MS", &c.ReconcileIntervalMS)
	envInt("CRONMASTER_PRUNE_INTERVAL_MS", &c.PruneIntervalMS)
	envInt("CRONMASTER_SHUTDOWN_DRAIN_DEADLINE_MS", &c.ShutdownDrainDeadlineMS)
	envStr("CRONMASTER_USER_AGENT", &c.UserAgent)
	envInt("CRONMASTER_MAX_CONCURRENT_FIRINGS", &c.MaxConcurrentFirings)
	envStr("CRONMASTER_OTLP_ENDPOINT", &c.OTLPEndpoint)
	envStr("CRONMASTER_OTLP_PROTOCOL", &c.OTLPProtocol)
	envBool("CRONMASTER_OTLP_INSECURE", &c.OTLPInsecure)
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required")
	}
	if c.RequestTimeoutMS <= 0 {
		return fmt.Errorf("request_timeout_ms must be positive")
	}
	if c.ResponseBodyLimitBytes <= 0 {
		return fmt.Errorf("response_body_limit_bytes must be positive")
	}
	if c.ExecutionRetentionDays <= 0 {
		return fmt.Errorf("execution_retention_days must be positive")
	}
	if c.MaxConcurrentFirings < 0 {
		return fmt.Errorf("max_concurrent_firings must be >= 0")
	}
	if c.ShutdownDrainDeadlineMS > maxDrainMS {
		c.ShutdownDrainDeadlineMS = maxDrainMS
	}
	return nil
}

// RequestTimeout returns the invocation timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

// Retention returns the execution retention window.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.ExecutionRetentionDays) * 24 * time.Hour
}

// ReconcileInterval returns the reconcile period.
func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.ReconcileIntervalMS) * time.Millisecond
}

// PruneInterval returns the prune period.
func (c *Config) PruneInterval() time.Duration {
	return time.Duration(c.PruneIntervalMS) * time.Millisecond
}

// DrainDeadline returns the shutdown drain deadline.
func (c *Config) DrainDeadline() time.Duration {
	return time.Duration(c.ShutdownDrainDeadlineMS) * time.Millisecond
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
