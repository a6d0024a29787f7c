// Package config provides configuration loading and management for Sieve.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete Sieve configuration.
type Config struct {
	NATS    NATSConfig    `yaml:"nats"`
	HTTP    HTTPConfig    `yaml:"http"`
	Catalog CatalogConfig `yaml:"catalog"`
	Jobs    JobsConfig    `yaml:"jobs"`
	Workers WorkersConfig `yaml:"workers"`
	Log     LogConfig     `yaml:"log"`
}

// NATSConfig configures the NATS connection and stream names.
type NATSConfig struct {
	// URL is the NATS server URL.
	URL string `yaml:"url"`
	// TaskStream is the JetStream stream carrying worker tasks.
	TaskStream string `yaml:"task_stream"`
	// EventStream is the JetStream stream carrying lifecycle events.
	EventStream string `yaml:"event_stream"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	// Addr is the listen address for the HTTP API.
	Addr string `yaml:"addr"`
	// Prefix is the path prefix the API is served under.
	Prefix string `yaml:"prefix"`
}

// CatalogConfig configures the filesystem rubric/template/provider catalog.
type CatalogConfig struct {
	// Dir is the catalog root directory. Empty disables the catalog.
	Dir string `yaml:"dir"`
	// Patterns are the glob patterns matched within Dir.
	Patterns []string `yaml:"patterns"`
	// DefaultRubric is activated at startup when no rubric pointer is set.
	DefaultRubric string `yaml:"default_rubric"`
	// DefaultProvider is activated at startup when no provider pointer is set.
	DefaultProvider string `yaml:"default_provider"`
	// Watch enables live resync on catalog file changes.
	Watch bool `yaml:"watch"`
}

// JobsConfig configures the orchestrator's retry and timeout policy.
type JobsConfig struct {
	// MaxAttempts is the per-job attempt ceiling.
	MaxAttempts int `yaml:"max_attempts"`
	// RetryBackoffBase is the initial delay before requeueing a retry.
	RetryBackoffBase time.Duration `yaml:"retry_backoff_base"`
	// RetryBackoffMultiplier grows the backoff on each attempt.
	RetryBackoffMultiplier float64 `yaml:"retry_backoff_multiplier"`
	// RetryBackoffMax caps the retry backoff.
	RetryBackoffMax time.Duration `yaml:"retry_backoff_max"`
	// NormalizeSoftLimit is the execution deadline sent to normalize workers.
	NormalizeSoftLimit time.Duration `yaml:"normalize_soft_limit"`
	// EvaluateSoftLimit is the execution deadline sent to evaluate workers.
	EvaluateSoftLimit time.Duration `yaml:"evaluate_soft_limit"`
	// HardTimeout bounds how long a job may stay running.
	HardTimeout time.Duration `yaml:"hard_timeout"`
	// SweepInterval is how often the retry/timeout sweeper runs.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// WorkersConfig configures the worker pools.
type WorkersConfig struct {
	// NormalizeConcurrency bounds parallel conversions.
	NormalizeConcurrency int `yaml:"normalize_concurrency"`
	// EvaluateConcurrency bounds parallel provider calls.
	EvaluateConcurrency int `yaml:"evaluate_concurrency"`
	// RequestTimeout bounds a single provider HTTP request.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		NATS: NATSConfig{
			URL:         "nats://localhost:4222",
			TaskStream:  "SIEVE_TASKS",
			EventStream: "SIEVE_EVENTS",
		},
		HTTP: HTTPConfig{
			Addr:   ":8080",
			Prefix: "api/triage",
		},
		Catalog: CatalogConfig{
			Dir:      "catalog",
			Patterns: []string{"**/*.yaml", "**/*.yml"},
			Watch:    true,
		},
		Jobs: JobsConfig{
			MaxAttempts:            3,
			RetryBackoffBase:       5 * time.Second,
			RetryBackoffMultiplier: 2.0,
			RetryBackoffMax:        5 * time.Minute,
			NormalizeSoftLimit:     30 * time.Second,
			EvaluateSoftLimit:      120 * time.Second,
			HardTimeout:            10 * time.Minute,
			SweepInterval:          15 * time.Second,
		},
		Workers: WorkersConfig{
			NormalizeConcurrency: 8,
			EvaluateConcurrency:  2,
			RequestTimeout:       60 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required")
	}
	if c.NATS.TaskStream == "" || c.NATS.EventStream == "" {
		return fmt.Errorf("nats stream names are required")
	}
	if c.Jobs.MaxAttempts < 1 {
		return fmt.Errorf("jobs.max_attempts must be at least 1")
	}
	if c.Jobs.RetryBackoffMultiplier < 1 {
		return fmt.Errorf("jobs.retry_backoff_multiplier must be at least 1")
	}
	if c.Workers.NormalizeConcurrency < 1 || c.Workers.EvaluateConcurrency < 1 {
		return fmt.Errorf("worker concurrency must be at least 1")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file on top of defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for
// non-zero values).
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.TaskStream != "" {
		c.NATS.TaskStream = other.NATS.TaskStream
	}
	if other.NATS.EventStream != "" {
		c.NATS.EventStream = other.NATS.EventStream
	}

	if other.HTTP.Addr != "" {
		c.HTTP.Addr = other.HTTP.Addr
	}
	if other.HTTP.Prefix != "" {
		c.HTTP.Prefix = other.HTTP.Prefix
	}

	if other.Catalog.Dir != "" {
		c.Catalog.Dir = other.Catalog.Dir
	}
	if len(other.Catalog.Patterns) > 0 {
		c.Catalog.Patterns = other.Catalog.Patterns
	}
	if other.Catalog.DefaultRubric != "" {
		c.Catalog.DefaultRubric = other.Catalog.DefaultRubric
	}
	if other.Catalog.DefaultProvider != "" {
		c.Catalog.DefaultProvider = other.Catalog.DefaultProvider
	}
	c.Catalog.Watch = other.Catalog.Watch

	if other.Jobs.MaxAttempts != 0 {
		c.Jobs.MaxAttempts = other.Jobs.MaxAttempts
	}
	if other.Jobs.RetryBackoffBase != 0 {
		c.Jobs.RetryBackoffBase = other.Jobs.RetryBackoffBase
	}
	if other.Jobs.RetryBackoffMultiplier != 0 {
		c.Jobs.RetryBackoffMultiplier = other.Jobs.RetryBackoffMultiplier
	}
	if other.Jobs.RetryBackoffMax != 0 {
		c.Jobs.RetryBackoffMax = other.Jobs.RetryBackoffMax
	}
	if other.Jobs.NormalizeSoftLimit != 0 {
		c.Jobs.NormalizeSoftLimit = other.Jobs.NormalizeSoftLimit
	}
	if other.Jobs.EvaluateSoftLimit != 0 {
		c.Jobs.EvaluateSoftLimit = other.Jobs.EvaluateSoftLimit
	}
	if other.Jobs.HardTimeout != 0 {
		c.Jobs.HardTimeout = other.Jobs.HardTimeout
	}
	if other.Jobs.SweepInterval != 0 {
		c.Jobs.SweepInterval = other.Jobs.SweepInterval
	}

	if other.Workers.NormalizeConcurrency != 0 {
		c.Workers.NormalizeConcurrency = other.Workers.NormalizeConcurrency
	}
	if other.Workers.EvaluateConcurrency != 0 {
		c.Workers.EvaluateConcurrency = other.Workers.EvaluateConcurrency
	}
	if other.Workers.RequestTimeout != 0 {
		c.Workers.RequestTimeout = other.Workers.RequestTimeout
	}

	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
}
