package orchestrator

import (
	"fmt"
	"reflect"
	"time"

	"github.com/c360studio/semstreams/component"
)

// orchestratorSchema defines the configuration schema.
var orchestratorSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the orchestrator component.
type Config struct {
	// EventStream is the JetStream stream carrying lifecycle events.
	EventStream string `json:"event_stream" schema:"type:string,description:JetStream stream for lifecycle events,category:basic,default:SIEVE_EVENTS"`

	// TaskStream is the JetStream stream carrying worker tasks.
	TaskStream string `json:"task_stream" schema:"type:string,description:JetStream stream for worker tasks,category:basic,default:SIEVE_TASKS"`

	// ConsumerName is the durable consumer name for event consumption.
	ConsumerName string `json:"consumer_name" schema:"type:string,description:Durable consumer name for event consumption,category:basic,default:orchestrator"`

	// MaxAttempts is the per-job attempt ceiling.
	MaxAttempts int `json:"max_attempts" schema:"type:int,description:Maximum attempts per job,category:advanced,default:3,min:1,max:10"`

	// RetryBackoffBase is the initial delay before requeueing a retrying job.
	RetryBackoffBase string `json:"retry_backoff_base" schema:"type:string,description:Initial retry backoff delay,category:advanced,default:5s"`

	// RetryBackoffMultiplier grows the backoff on each attempt.
	RetryBackoffMultiplier float64 `json:"retry_backoff_multiplier" schema:"type:float,description:Backoff growth factor per attempt,category:advanced,default:2.0"`

	// RetryBackoffMax caps the retry backoff.
	RetryBackoffMax string `json:"retry_backoff_max" schema:"type:string,description:Maximum retry backoff delay,category:advanced,default:5m"`

	// NormalizeSoftLimit is the per-task execution deadline sent to
	// normalize workers.
	NormalizeSoftLimit string `json:"normalize_soft_limit" schema:"type:string,description:Soft execution limit for normalize tasks,category:advanced,default:30s"`

	// EvaluateSoftLimit is the per-task execution deadline sent to
	// evaluate workers.
	EvaluateSoftLimit string `json:"evaluate_soft_limit" schema:"type:string,description:Soft execution limit for evaluate tasks,category:advanced,default:120s"`

	// HardTimeout fails or retries jobs stuck running past this limit.
	HardTimeout string `json:"hard_timeout" schema:"type:string,description:Hard limit on job running time,category:advanced,default:10m"`

	// SweepInterval is how often the retry/timeout sweeper runs.
	SweepInterval string `json:"sweep_interval" schema:"type:string,description:Interval between sweeper runs,category:advanced,default:15s"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty" schema:"type:ports,description:Input/output port definitions,category:basic"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		EventStream:            "SIEVE_EVENTS",
		TaskStream:             "SIEVE_TASKS",
		ConsumerName:           "orchestrator",
		MaxAttempts:            3,
		RetryBackoffBase:       "5s",
		RetryBackoffMultiplier: 2.0,
		RetryBackoffMax:        "5m",
		NormalizeSoftLimit:     "30s",
		EvaluateSoftLimit:      "120s",
		HardTimeout:            "10m",
		SweepInterval:          "15s",
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{
					Name:        "events",
					Type:        "jetstream",
					Subject:     "sieve.event.>",
					StreamName:  "SIEVE_EVENTS",
					Description: "Receive artifact and job lifecycle events",
					Required:    true,
				},
			},
			Outputs: []component.PortDefinition{
				{
					Name:        "tasks",
					Type:        "jetstream",
					Subject:     "sieve.task.>",
					StreamName:  "SIEVE_TASKS",
					Description: "Publish normalize and evaluate tasks",
					Required:    true,
				},
				{
					Name:        "results",
					Type:        "nats",
					Subject:     "sieve.event.job.result",
					Description: "Publish not-ready results for rejected evaluate requests",
					Required:    false,
				},
			},
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.EventStream == "" {
		return fmt.Errorf("event_stream is required")
	}
	if c.TaskStream == "" {
		return fmt.Errorf("task_stream is required")
	}
	if c.ConsumerName == "" {
		return fmt.Errorf("consumer_name is required")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}
	if c.RetryBackoffMultiplier < 1 {
		return fmt.Errorf("retry_backoff_multiplier must be at least 1")
	}

	for name, value := range map[string]string{
		"retry_backoff_base":   c.RetryBackoffBase,
		"retry_backoff_max":    c.RetryBackoffMax,
		"normalize_soft_limit": c.NormalizeSoftLimit,
		"evaluate_soft_limit":  c.EvaluateSoftLimit,
		"hard_timeout":         c.HardTimeout,
		"sweep_interval":       c.SweepInterval,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	return nil
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetRetryBackoffBase returns the parsed retry backoff base.
func (c *Config) GetRetryBackoffBase() time.Duration {
	return parseDurationOr(c.RetryBackoffBase, 5*time.Second)
}

// GetRetryBackoffMax returns the parsed retry backoff cap.
func (c *Config) GetRetryBackoffMax() time.Duration {
	return parseDurationOr(c.RetryBackoffMax, 5*time.Minute)
}

// GetNormalizeSoftLimit returns the parsed normalize soft limit.
func (c *Config) GetNormalizeSoftLimit() time.Duration {
	return parseDurationOr(c.NormalizeSoftLimit, 30*time.Second)
}

// GetEvaluateSoftLimit returns the parsed evaluate soft limit.
func (c *Config) GetEvaluateSoftLimit() time.Duration {
	return parseDurationOr(c.EvaluateSoftLimit, 120*time.Second)
}

// GetHardTimeout returns the parsed hard timeout.
func (c *Config) GetHardTimeout() time.Duration {
	return parseDurationOr(c.HardTimeout, 10*time.Minute)
}

// GetSweepInterval returns the parsed sweep interval.
func (c *Config) GetSweepInterval() time.Duration {
	return parseDurationOr(c.SweepInterval, 15*time.Second)
}
