package scenarios

import (
	"context"
	"fmt"

	"github.com/c360studio/sieve/test/e2e/config"
)

// pipelineArticle is the raw HTML the happy-path scenario ingests. Chrome
// around the article verifies normalization strips it before scoring.
const pipelineArticle = `<!DOCTYPE html>
<html>
<head><title>Rate Limiter Design Notes</title></head>
<body>
<nav><a href="/">Home</a> <a href="/posts">Posts</a></nav>
<article>
<h1>Rate Limiter Design Notes</h1>
<p>Token bucket beats sliding window for bursty workloads because the
bucket absorbs short spikes without rejecting requests that a strict
window would refuse. The refill rate bounds sustained throughput while
the bucket depth bounds burst size, and both knobs tune independently.</p>
<p>For distributed enforcement, a central store adds a round trip per
decision; local buckets with periodic reconciliation trade strictness
for latency. Most services tolerate the drift.</p>
</article>
<footer>Copyright 2026</footer>
</body>
</html>`

// TriagePipelineScenario exercises the full happy path: ingest a raw HTML
// artifact, let the pipeline normalize and evaluate it, and verify the
// persisted verdict through the operator API.
type TriagePipelineScenario struct {
	cfg        *config.Config
	harness    *harness
	artifactID string
}

// NewTriagePipelineScenario creates the happy-path scenario.
func NewTriagePipelineScenario(cfg *config.Config) *TriagePipelineScenario {
	return &TriagePipelineScenario{cfg: cfg}
}

// Name returns the scenario identifier.
func (s *TriagePipelineScenario) Name() string { return "triage-pipeline" }

// Description describes what the scenario verifies.
func (s *TriagePipelineScenario) Description() string {
	return "Ingests an HTML artifact and follows it through normalization and rubric evaluation to a persisted verdict"
}

// Setup connects to the pipeline and seeds the e2e catalog.
func (s *TriagePipelineScenario) Setup(ctx context.Context) error {
	h, err := newHarness(ctx, s.cfg)
	if err != nil {
		return err
	}
	s.harness = h
	return h.seedCatalog(ctx)
}

// Execute runs the scenario.
func (s *TriagePipelineScenario) Execute(ctx context.Context) (*Result, error) {
	result := NewResult(s.Name())
	defer result.Complete()
	h := s.harness

	err := result.stage("ingest", func() error {
		id, err := h.ingestArtifact(ctx, "https://example.com/notes/rate-limiter", "text/html", []byte(pipelineArticle))
		if err != nil {
			return err
		}
		s.artifactID = id
		result.SetDetail("artifact_id", id)
		return nil
	})
	if err != nil {
		result.Error = err.Error()
		return result, nil
	}

	var status *apiStatus
	err = result.stage("evaluate", func() error {
		var err error
		status, err = h.waitForState(ctx, s.artifactID, StateEvaluationComplete)
		return err
	})
	if err != nil {
		result.Error = err.Error()
		return result, nil
	}

	err = result.stage("verify-verdict", func() error {
		ev := status.Evaluation
		if ev == nil {
			return fmt.Errorf("complete status carries no evaluation")
		}
		if ev.RubricVersion != config.E2ERubricVersion {
			return fmt.Errorf("rubric version = %q, want %q", ev.RubricVersion, config.E2ERubricVersion)
		}
		if ev.Label == "" {
			return fmt.Errorf("evaluation has no label")
		}
		for _, category := range []string{"relevance", "credibility"} {
			if _, ok := ev.CategoryScores[category]; !ok {
				return fmt.Errorf("missing category score %q", category)
			}
		}
		if ev.TotalScore < 0 || ev.TotalScore > 5 {
			return fmt.Errorf("total score %v outside [0, 5]", ev.TotalScore)
		}
		if ev.Confidence < 0 || ev.Confidence > 1 {
			return fmt.Errorf("confidence %v outside [0, 1]", ev.Confidence)
		}
		result.SetDetail("label", ev.Label)
		result.SetDetail("total_score", ev.TotalScore)
		result.SetDetail("confidence", ev.Confidence)
		return nil
	})
	if err != nil {
		result.Error = err.Error()
		return result, nil
	}

	result.Success = true
	return result, nil
}

// Teardown closes the harness connections.
func (s *TriagePipelineScenario) Teardown(_ context.Context) error {
	if s.harness != nil {
		s.harness.close()
	}
	return nil
}
