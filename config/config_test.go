package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("unexpected default NATS URL: %s", cfg.NATS.URL)
	}
	if cfg.Jobs.MaxAttempts != 3 {
		t.Errorf("unexpected default max attempts: %d", cfg.Jobs.MaxAttempts)
	}
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sieve.yaml")
	content := `
nats:
  url: nats://nats.internal:4222
jobs:
  max_attempts: 5
  hard_timeout: 20m
workers:
  evaluate_concurrency: 4
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.NATS.URL != "nats://nats.internal:4222" {
		t.Errorf("nats url not overridden: %s", cfg.NATS.URL)
	}
	if cfg.Jobs.MaxAttempts != 5 {
		t.Errorf("max attempts not overridden: %d", cfg.Jobs.MaxAttempts)
	}
	if cfg.Jobs.HardTimeout != 20*time.Minute {
		t.Errorf("hard timeout not overridden: %s", cfg.Jobs.HardTimeout)
	}
	if cfg.Workers.EvaluateConcurrency != 4 {
		t.Errorf("evaluate concurrency not overridden: %d", cfg.Workers.EvaluateConcurrency)
	}
	// Untouched values keep their defaults.
	if cfg.NATS.TaskStream != "SIEVE_TASKS" {
		t.Errorf("task stream default lost: %s", cfg.NATS.TaskStream)
	}
	if cfg.Workers.NormalizeConcurrency != 8 {
		t.Errorf("normalize concurrency default lost: %d", cfg.Workers.NormalizeConcurrency)
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestMergePrecedence(t *testing.T) {
	base := DefaultConfig()
	overlay := DefaultConfig()
	overlay.NATS.URL = "nats://other:4222"
	overlay.Jobs.MaxAttempts = 7
	overlay.Log.Level = "warn"

	base.Merge(overlay)

	if base.NATS.URL != "nats://other:4222" {
		t.Errorf("merge did not take overlay URL: %s", base.NATS.URL)
	}
	if base.Jobs.MaxAttempts != 7 {
		t.Errorf("merge did not take overlay max attempts: %d", base.Jobs.MaxAttempts)
	}
	if base.Log.Level != "warn" {
		t.Errorf("merge did not take overlay log level: %s", base.Log.Level)
	}
	if base.HTTP.Addr != ":8080" {
		t.Errorf("merge clobbered default HTTP addr: %s", base.HTTP.Addr)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty nats url", func(c *Config) { c.NATS.URL = "" }},
		{"zero max attempts", func(c *Config) { c.Jobs.MaxAttempts = 0 }},
		{"multiplier below one", func(c *Config) { c.Jobs.RetryBackoffMultiplier = 0.5 }},
		{"zero concurrency", func(c *Config) { c.Workers.NormalizeConcurrency = 0 }},
		{"unknown log level", func(c *Config) { c.Log.Level = "verbose" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestSaveAndReloadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.NATS.URL = "nats://roundtrip:4222"
	cfg.Catalog.DefaultRubric = "osint-v1"

	if err := cfg.SaveToFile(path); err != nil {
		t.Fatalf("save config: %v", err)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("reload config: %v", err)
	}
	if loaded.NATS.URL != "nats://roundtrip:4222" {
		t.Errorf("URL lost in round trip: %s", loaded.NATS.URL)
	}
	if loaded.Catalog.DefaultRubric != "osint-v1" {
		t.Errorf("default rubric lost in round trip: %s", loaded.Catalog.DefaultRubric)
	}
}
