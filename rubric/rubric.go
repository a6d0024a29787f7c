// Package rubric defines versioned weighted scoring configurations and the
// pure scoring engine that turns structured model output into a triage
// verdict. Everything here is a function of its inputs; nothing touches the
// network or the store.
package rubric

import (
	"fmt"
	"sort"
	"time"
)

// Default classification thresholds, used when a rubric leaves them unset.
const (
	DefaultSignalThreshold = 3.5
	DefaultNoiseThreshold  = 2.0
	DefaultMinConfidence   = 0.5
)

// Category is one scored dimension of a rubric.
type Category struct {
	// Weight is the relative importance in (0, 1]. Weights across a rubric
	// need not sum to 1; they are normalized at scoring time.
	Weight float64 `json:"weight" yaml:"weight"`

	// Guidance is the instruction text shown to the model for this category.
	Guidance string `json:"guidance" yaml:"guidance"`
}

// Thresholds are the rubric's classification cut points. Zero values fall
// back to the package defaults.
type Thresholds struct {
	Signal        float64 `json:"signal" yaml:"signal"`
	Noise         float64 `json:"noise" yaml:"noise"`
	MinConfidence float64 `json:"min_confidence" yaml:"min_confidence"`
}

// Rubric is a named, versioned scoring configuration. Rubrics are immutable
// once referenced by an evaluation; editing publishes a new version.
type Rubric struct {
	// Version uniquely identifies this rubric (e.g. "osint-v3").
	Version string `json:"version" yaml:"version"`

	// Name is the human-readable rubric family name.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	Categories map[string]Category `json:"categories" yaml:"categories"`

	Thresholds Thresholds `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	// TemplateID references the evaluation prompt template by id, never
	// inlined, so evaluations stay reproducible against the exact wording.
	TemplateID string `json:"template_id,omitempty" yaml:"template_id,omitempty"`

	Active    bool      `json:"active,omitempty" yaml:"active,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// Validate checks structural validity of the rubric.
func (r *Rubric) Validate() error {
	if r.Version == "" {
		return fmt.Errorf("rubric version is required")
	}
	if len(r.Categories) == 0 {
		return fmt.Errorf("rubric %s declares no categories", r.Version)
	}
	for key, cat := range r.Categories {
		if key == "" {
			return fmt.Errorf("rubric %s has a category with an empty key", r.Version)
		}
		if cat.Weight <= 0 || cat.Weight > 1 {
			return fmt.Errorf("rubric %s category %s: weight %v outside (0, 1]", r.Version, key, cat.Weight)
		}
	}
	if r.Thresholds.Noise > r.Thresholds.Signal && r.Thresholds.Signal != 0 {
		return fmt.Errorf("rubric %s: noise threshold %v above signal threshold %v",
			r.Version, r.Thresholds.Noise, r.Thresholds.Signal)
	}
	return nil
}

// SignalThreshold returns the configured or default signal cut point.
func (r *Rubric) SignalThreshold() float64 {
	if r.Thresholds.Signal > 0 {
		return r.Thresholds.Signal
	}
	return DefaultSignalThreshold
}

// NoiseThreshold returns the configured or default noise cut point.
func (r *Rubric) NoiseThreshold() float64 {
	if r.Thresholds.Noise > 0 {
		return r.Thresholds.Noise
	}
	return DefaultNoiseThreshold
}

// MinConfidence returns the configured or default confidence floor.
func (r *Rubric) MinConfidence() float64 {
	if r.Thresholds.MinConfidence > 0 {
		return r.Thresholds.MinConfidence
	}
	return DefaultMinConfidence
}

// NormalizedWeights returns the category weights scaled to sum to 1.0.
func (r *Rubric) NormalizedWeights() map[string]float64 {
	var sum float64
	for _, cat := range r.Categories {
		sum += cat.Weight
	}
	weights := make(map[string]float64, len(r.Categories))
	if sum == 0 {
		return weights
	}
	for key, cat := range r.Categories {
		weights[key] = cat.Weight / sum
	}
	return weights
}

// CategoryKeys returns the declared category keys in stable order, for
// prompt construction and response validation.
func (r *Rubric) CategoryKeys() []string {
	keys := make([]string, 0, len(r.Categories))
	for key := range r.Categories {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
