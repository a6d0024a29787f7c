// Package config provides configuration constants for e2e tests.
package config

import "time"

// Default connection URLs.
const (
	DefaultNATSURL = "nats://localhost:4222"
	DefaultAPIURL  = "http://localhost:8080/api/triage"
)

// Default timeouts.
const (
	DefaultSetupTimeout = 60 * time.Second
	DefaultStageTimeout = 30 * time.Second
	DefaultPollInterval = 500 * time.Millisecond
	DefaultWaitTimeout  = 60 * time.Second
)

// E2E test identifiers.
const (
	E2ESourceID      = "e2e-runner"
	E2ERubricVersion = "e2e-v1"
	E2EProviderName  = "e2e-mock"
)

// Config holds runtime settings for a scenario run.
type Config struct {
	// NATSURL is the NATS server the pipeline under test is connected to.
	NATSURL string

	// APIURL is the base URL of the triage API, including the path prefix.
	APIURL string

	// MockLLMURL is the mock provider endpoint the seeded provider config
	// points at.
	MockLLMURL string

	SetupTimeout time.Duration
	StageTimeout time.Duration
	WaitTimeout  time.Duration
	PollInterval time.Duration
}

// Defaults fills zero fields with package defaults.
func (c *Config) Defaults() {
	if c.NATSURL == "" {
		c.NATSURL = DefaultNATSURL
	}
	if c.APIURL == "" {
		c.APIURL = DefaultAPIURL
	}
	if c.MockLLMURL == "" {
		c.MockLLMURL = "http://localhost:11434"
	}
	if c.SetupTimeout == 0 {
		c.SetupTimeout = DefaultSetupTimeout
	}
	if c.StageTimeout == 0 {
		c.StageTimeout = DefaultStageTimeout
	}
	if c.WaitTimeout == 0 {
		c.WaitTimeout = DefaultWaitTimeout
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
}
