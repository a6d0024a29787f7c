package evaluator

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the minimal interface needed for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the evaluator component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "evaluator",
		Factory:     NewComponent,
		Schema:      evaluatorSchema,
		Type:        "processor",
		Protocol:    "triage",
		Domain:      "sieve",
		Description: "Scores normalized artifacts against the active rubric",
		Version:     "0.1.0",
	})
}
