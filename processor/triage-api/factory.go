package triageapi

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the minimal interface needed for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the triage-api component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "triage-api",
		Factory:     NewComponent,
		Schema:      triageAPISchema,
		Type:        "processor",
		Protocol:    "triage",
		Domain:      "sieve",
		Description: "HTTP endpoints for artifact status, evaluation requests, and rubrics",
		Version:     "0.1.0",
	})
}
