package evaluator

import (
	"fmt"
	"reflect"
	"time"

	"github.com/c360studio/semstreams/component"
)

// evaluatorSchema defines the configuration schema.
var evaluatorSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the evaluator worker pool.
type Config struct {
	// TaskStream is the JetStream stream carrying evaluate tasks.
	TaskStream string `json:"task_stream" schema:"type:string,description:JetStream stream for evaluate tasks,category:basic,default:SIEVE_TASKS"`

	// ConsumerName is the durable consumer name for task consumption.
	ConsumerName string `json:"consumer_name" schema:"type:string,description:Durable consumer name for task consumption,category:basic,default:evaluator"`

	// MaxConcurrent bounds parallel provider calls. Evaluation is
	// expensive and rate-limited upstream, so this stays low.
	MaxConcurrent int `json:"max_concurrent" schema:"type:int,description:Maximum concurrent evaluations,category:advanced,default:2,min:1,max:16"`

	// SoftLimit is the per-task execution deadline used when a task does
	// not carry its own limit.
	SoftLimit string `json:"soft_limit" schema:"type:string,description:Default soft execution limit per task,category:advanced,default:120s"`

	// RequestTimeout bounds a single provider HTTP request.
	RequestTimeout string `json:"request_timeout" schema:"type:string,description:HTTP timeout per provider request,category:advanced,default:60s"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty" schema:"type:ports,description:Input/output port definitions,category:basic"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		TaskStream:     "SIEVE_TASKS",
		ConsumerName:   "evaluator",
		MaxConcurrent:  2,
		SoftLimit:      "120s",
		RequestTimeout: "60s",
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{
					Name:        "tasks",
					Type:        "jetstream",
					Subject:     "sieve.task.evaluate",
					StreamName:  "SIEVE_TASKS",
					Description: "Receive evaluate tasks from the orchestrator",
					Required:    true,
				},
			},
			Outputs: []component.PortDefinition{
				{
					Name:        "results",
					Type:        "jetstream",
					Subject:     "sieve.event.job.result",
					StreamName:  "SIEVE_EVENTS",
					Description: "Publish task results to the orchestrator",
					Required:    true,
				},
			},
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.TaskStream == "" {
		return fmt.Errorf("task_stream is required")
	}
	if c.ConsumerName == "" {
		return fmt.Errorf("consumer_name is required")
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1")
	}
	for name, value := range map[string]string{
		"soft_limit":      c.SoftLimit,
		"request_timeout": c.RequestTimeout,
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

// GetSoftLimit returns the parsed soft limit.
func (c *Config) GetSoftLimit() time.Duration {
	return parseDurationOr(c.SoftLimit, 120*time.Second)
}

// GetRequestTimeout returns the parsed HTTP request timeout.
func (c *Config) GetRequestTimeout() time.Duration {
	return parseDurationOr(c.RequestTimeout, 60*time.Second)
}
