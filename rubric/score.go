package rubric

import (
	"fmt"
	"math"
	"sort"
)

// Label is the triage outcome of an evaluation, in decreasing order of
// assessed usefulness.
type Label string

const (
	LabelSignal Label = "Signal"
	LabelReview Label = "Review"
	LabelNoise  Label = "Noise"
)

// Score is the result of applying a rubric to a model response.
type Score struct {
	Total      float64
	Confidence float64
	Label      Label

	// PerCategory echoes the raw category scores that entered the total,
	// restricted to categories the rubric declares.
	PerCategory map[string]float64
}

// MissingCategoryError reports rubric categories the model did not score.
// Missing scores fail the attempt rather than defaulting to zero, which
// would silently corrupt the weighted total.
type MissingCategoryError struct {
	RubricVersion string
	Categories    []string
}

func (e *MissingCategoryError) Error() string {
	return fmt.Sprintf("rubric %s: response missing category scores: %v", e.RubricVersion, e.Categories)
}

// Apply scores a model response against the rubric. Category scores are
// expected in [0, 5]; reported confidence in [0, 1]. Categories present in
// the response but absent from the rubric are ignored. reported is nil when
// the model did not return a confidence value.
func Apply(r *Rubric, scores map[string]float64, reported *float64) (*Score, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	var missing []string
	per := make(map[string]float64, len(r.Categories))
	for key := range r.Categories {
		val, ok := scores[key]
		if !ok {
			missing = append(missing, key)
			continue
		}
		per[key] = clamp(val, 0, 5)
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &MissingCategoryError{RubricVersion: r.Version, Categories: missing}
	}

	var total float64
	for key, weight := range r.NormalizedWeights() {
		total += weight * per[key]
	}
	total = clamp(total, 0, 5)

	confidence := deriveConfidence(per, reported)

	return &Score{
		Total:       total,
		Confidence:  confidence,
		Label:       Classify(r, total, confidence),
		PerCategory: per,
	}, nil
}

// Classify maps a total score and confidence to a label. Signal requires
// both the score and confidence cut points and owns its boundary; the noise
// boundary itself belongs to Review, so only scores strictly below the noise
// threshold are discarded outright.
func Classify(r *Rubric, total, confidence float64) Label {
	if total >= r.SignalThreshold() && confidence >= r.MinConfidence() {
		return LabelSignal
	}
	if total < r.NoiseThreshold() {
		return LabelNoise
	}
	return LabelReview
}

// deriveConfidence prefers the model-reported value when it is in range,
// otherwise derives one from the spread of category scores: sharply
// disagreeing scores mean a less trustworthy verdict.
func deriveConfidence(scores map[string]float64, reported *float64) float64 {
	if reported != nil && *reported >= 0 && *reported <= 1 {
		return *reported
	}
	return clamp(1-stddev(scores)/2.5, 0, 1)
}

func stddev(scores map[string]float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, v := range scores {
		sum += v
	}
	mean := sum / float64(len(scores))

	var variance float64
	for _, v := range scores {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(scores))

	return math.Sqrt(variance)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
