package triageapi

import (
	"reflect"

	"github.com/c360studio/semstreams/component"
)

// triageAPISchema defines the configuration schema.
var triageAPISchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the triage-api component.
type Config struct {
	// Prefix is the path prefix the handlers are registered under.
	Prefix string `json:"prefix" schema:"type:string,description:HTTP path prefix for the API,category:basic,default:api/triage"`

	// Ports contains output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty" schema:"type:ports,description:Output port definitions,category:basic"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Prefix: "api/triage",
		Ports: &component.PortConfig{
			Outputs: []component.PortDefinition{
				{
					Name:        "events",
					Type:        "jetstream",
					Subject:     "sieve.event.>",
					StreamName:  "SIEVE_EVENTS",
					Description: "Publish evaluate and cancel requests",
					Required:    true,
				},
			},
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	return nil
}

// GetPrefix returns the configured or default path prefix.
func (c *Config) GetPrefix() string {
	if c.Prefix == "" {
		return "api/triage"
	}
	return c.Prefix
}
