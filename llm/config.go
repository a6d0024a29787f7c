package llm

import "fmt"

// ProviderConfig holds connection and model settings for one evaluation
// backend. Exactly one config is marked active at a time via the pointer
// store; the gate refuses evaluation when none is.
type ProviderConfig struct {
	// Name uniquely identifies this configuration (e.g. "primary-ollama").
	Name string `json:"name" yaml:"name"`

	// Provider selects the wire adapter: "openai", "anthropic", "ollama".
	Provider string `json:"provider" yaml:"provider"`

	// URL is the API base URL. Empty uses the provider default.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// Model is the model identifier sent to the provider.
	Model string `json:"model" yaml:"model"`

	// MaxTokens limits response length. 0 uses the provider default.
	MaxTokens int `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`

	// Temperature is the sampling temperature. Nil uses the provider
	// default; 0 is deterministic.
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`

	// Enabled gates whether the config may serve evaluations at all.
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// Validate checks that the config names a registered provider adapter.
func (c *ProviderConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("provider config name is required")
	}
	if c.Model == "" {
		return fmt.Errorf("provider config %s: model is required", c.Name)
	}
	if GetProvider(c.Provider) == nil {
		return fmt.Errorf("provider config %s: unknown provider %q", c.Name, c.Provider)
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("provider config %s: temperature %v outside [0, 2]", c.Name, *c.Temperature)
	}
	return nil
}
