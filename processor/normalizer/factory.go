package normalizer

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the minimal interface needed for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the normalizer component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "normalizer",
		Factory:     NewComponent,
		Schema:      normalizerSchema,
		Type:        "processor",
		Protocol:    "triage",
		Domain:      "sieve",
		Description: "Converts raw artifact content to normalized markdown",
		Version:     "0.1.0",
	})
}
