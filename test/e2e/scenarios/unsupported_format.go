package scenarios

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/c360studio/sieve/artifact"
	"github.com/c360studio/sieve/test/e2e/config"
)

// UnsupportedFormatScenario exercises the fatal-failure path: an artifact
// whose MIME type no normalizer handles must fail its normalize job on the
// first attempt, never reach evaluation, and reject explicit evaluation
// requests with the not-ready reasons.
type UnsupportedFormatScenario struct {
	cfg        *config.Config
	harness    *harness
	artifactID string
}

// NewUnsupportedFormatScenario creates the fatal-failure scenario.
func NewUnsupportedFormatScenario(cfg *config.Config) *UnsupportedFormatScenario {
	return &UnsupportedFormatScenario{cfg: cfg}
}

// Name returns the scenario identifier.
func (s *UnsupportedFormatScenario) Name() string { return "unsupported-format" }

// Description describes what the scenario verifies.
func (s *UnsupportedFormatScenario) Description() string {
	return "Verifies a PDF artifact fails normalization without retries and cannot be evaluated"
}

// Setup connects to the pipeline and seeds the e2e catalog.
func (s *UnsupportedFormatScenario) Setup(ctx context.Context) error {
	h, err := newHarness(ctx, s.cfg)
	if err != nil {
		return err
	}
	s.harness = h
	return h.seedCatalog(ctx)
}

// Execute runs the scenario.
func (s *UnsupportedFormatScenario) Execute(ctx context.Context) (*Result, error) {
	result := NewResult(s.Name())
	defer result.Complete()
	h := s.harness

	err := result.stage("ingest", func() error {
		id, err := h.ingestArtifact(ctx, "https://example.com/report.pdf", "application/pdf", []byte("%PDF-1.7 stub"))
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

	err = result.stage("normalize-fails-fatally", func() error {
		job, err := s.waitForFailedNormalizeJob(ctx)
		if err != nil {
			return err
		}
		if job.ErrorCode != artifact.ReasonUnsupportedFormat {
			return fmt.Errorf("error code = %q, want %q", job.ErrorCode, artifact.ReasonUnsupportedFormat)
		}
		if job.Attempt != 1 {
			return fmt.Errorf("attempt = %d, want 1 (unsupported format must not retry)", job.Attempt)
		}
		result.SetDetail("job_id", job.ID)
		return nil
	})
	if err != nil {
		result.Error = err.Error()
		return result, nil
	}

	err = result.stage("evaluate-rejected", func() error {
		code, body, err := h.postJSON(ctx, "/artifacts/"+s.artifactID+"/evaluate", nil)
		if err != nil {
			return err
		}
		if code != http.StatusConflict {
			return fmt.Errorf("evaluate returned %d, want %d: %s", code, http.StatusConflict, body)
		}
		var rejection struct {
			Reasons []string `json:"reasons"`
		}
		if err := json.Unmarshal(body, &rejection); err != nil {
			return fmt.Errorf("unmarshal rejection: %w", err)
		}
		if len(rejection.Reasons) == 0 {
			return fmt.Errorf("rejection carries no reasons: %s", body)
		}
		result.SetDetail("rejection_reasons", rejection.Reasons)
		return nil
	})
	if err != nil {
		result.Error = err.Error()
		return result, nil
	}

	result.Success = true
	return result, nil
}

// waitForFailedNormalizeJob polls the store until the artifact's normalize
// job reaches the failed status.
func (s *UnsupportedFormatScenario) waitForFailedNormalizeJob(ctx context.Context) (*artifact.Job, error) {
	h := s.harness
	deadline := time.Now().Add(h.cfg.WaitTimeout)

	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		jobs, err := h.store.ListJobsByArtifact(ctx, s.artifactID)
		if err == nil {
			for _, job := range jobs {
				if job.Type == artifact.JobTypeNormalize && job.Status == artifact.JobStatusFailed {
					return job, nil
				}
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(h.cfg.PollInterval):
		}
	}
	return nil, fmt.Errorf("normalize job for %s did not fail before timeout", s.artifactID)
}

// Teardown closes the harness connections.
func (s *UnsupportedFormatScenario) Teardown(_ context.Context) error {
	if s.harness != nil {
		s.harness.close()
	}
	return nil
}
