package normalizer

import (
	"fmt"
	"reflect"
	"time"

	"github.com/c360studio/semstreams/component"
)

// normalizerSchema defines the configuration schema.
var normalizerSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the normalizer worker pool.
type Config struct {
	// TaskStream is the JetStream stream carrying normalize tasks.
	TaskStream string `json:"task_stream" schema:"type:string,description:JetStream stream for normalize tasks,category:basic,default:SIEVE_TASKS"`

	// ConsumerName is the durable consumer name for task consumption.
	ConsumerName string `json:"consumer_name" schema:"type:string,description:Durable consumer name for task consumption,category:basic,default:normalizer"`

	// MaxConcurrent bounds parallel conversions. Conversion is cheap, so
	// this runs much higher than the evaluate pool.
	MaxConcurrent int `json:"max_concurrent" schema:"type:int,description:Maximum concurrent conversions,category:advanced,default:8,min:1,max:64"`

	// SoftLimit is the per-task execution deadline used when a task does
	// not carry its own limit.
	SoftLimit string `json:"soft_limit" schema:"type:string,description:Default soft execution limit per task,category:advanced,default:30s"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty" schema:"type:ports,description:Input/output port definitions,category:basic"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		TaskStream:    "SIEVE_TASKS",
		ConsumerName:  "normalizer",
		MaxConcurrent: 8,
		SoftLimit:     "30s",
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{
					Name:        "tasks",
					Type:        "jetstream",
					Subject:     "sieve.task.normalize",
					StreamName:  "SIEVE_TASKS",
					Description: "Receive normalize tasks from the orchestrator",
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
	if c.SoftLimit != "" {
		if _, err := time.ParseDuration(c.SoftLimit); err != nil {
			return fmt.Errorf("invalid soft_limit: %w", err)
		}
	}
	return nil
}

// GetSoftLimit returns the parsed soft limit.
func (c *Config) GetSoftLimit() time.Duration {
	if c.SoftLimit == "" {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(c.SoftLimit)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}
