package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c360studio/semstreams/message"

	"github.com/c360studio/sieve/artifact"
	"github.com/c360studio/sieve/llm"
	"github.com/c360studio/sieve/prompt"
	"github.com/c360studio/sieve/rubric"
	"github.com/c360studio/sieve/storage"
)

// Store is the storage surface the worker needs.
type Store interface {
	GetArtifact(ctx context.Context, id storage.EntityID) (*artifact.Artifact, error)
	GetBlob(ctx context.Context, ref string) ([]byte, error)
	GetRubric(ctx context.Context, version string) (*rubric.Rubric, error)
	GetTemplate(ctx context.Context, id string) (*prompt.Template, error)
	ActiveProvider(ctx context.Context) (*llm.ProviderConfig, error)
}

// Publisher publishes result messages back to the orchestrator.
type Publisher interface {
	PublishToStream(ctx context.Context, subject string, data []byte) error
}

// Scorer turns a rendered prompt into a validated structured result.
type Scorer interface {
	Evaluate(ctx context.Context, cfg *llm.ProviderConfig, system, user string, categories []string) (*llm.EvalResult, error)
}

// defaultTemplate serves rubrics that do not name an evaluation template.
var defaultTemplate = &prompt.Template{
	ID:   "evaluation-default",
	Name: "Default evaluation prompt",
	Type: prompt.TypeEvaluation,
	SystemPrompt: "You are a triage analyst. Score content against the given " +
		"categories, citing concrete evidence from the content for each score. " +
		"Be conservative: reserve high scores for content that clearly earns them.",
	UserPrompt: "Title: {title}\nSource: {uri}\n\n" +
		"Scoring categories:\n{categories}\n\n" +
		"Content:\n{content}",
}

// worker executes evaluate tasks: it rechecks preconditions, assembles the
// prompt from the catalog, calls the scoring backend, and reports the
// verdict. Every task produces exactly one result message.
type worker struct {
	store  Store
	pub    Publisher
	scorer Scorer
	logger *slog.Logger

	// softLimit applies when the task does not carry its own limit.
	softLimit time.Duration

	now func() time.Time
}

// process runs one evaluate task to completion and publishes the result.
// The returned error covers publish failures only; task-level failures are
// reported through the result payload.
func (w *worker) process(ctx context.Context, task *artifact.TaskPayload) error {
	limit := w.softLimit
	if task.SoftLimitMs > 0 {
		limit = time.Duration(task.SoftLimitMs) * time.Millisecond
	}
	taskCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	id, err := storage.ParseEntityID(task.ArtifactID)
	if err != nil {
		return w.reportFailure(ctx, task, artifact.ReasonInvalidTarget,
			fmt.Sprintf("malformed artifact ID: %v", err))
	}

	a, err := w.store.GetArtifact(taskCtx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return w.reportFailure(ctx, task, artifact.ReasonInvalidTarget, "artifact does not exist")
		}
		return w.reportFailure(ctx, task, artifact.ReasonStorageFailure,
			fmt.Sprintf("load artifact: %v", err))
	}

	// The gate checked readiness before dispatch; this re-check is the
	// cheap guard against state drift between gating and execution.
	if !a.Normalized() {
		return w.reportFailure(ctx, task, artifact.ReasonNotReady, "artifact not normalized")
	}

	r, err := w.store.GetRubric(taskCtx, task.RubricVersion)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return w.reportFailure(ctx, task, artifact.ReasonNotReady,
				fmt.Sprintf("rubric version %s not found", task.RubricVersion))
		}
		return w.reportFailure(ctx, task, artifact.ReasonStorageFailure,
			fmt.Sprintf("load rubric: %v", err))
	}

	tmpl := defaultTemplate
	if r.TemplateID != "" {
		tmpl, err = w.store.GetTemplate(taskCtx, r.TemplateID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return w.reportFailure(ctx, task, artifact.ReasonNotReady,
					fmt.Sprintf("template %s not found", r.TemplateID))
			}
			return w.reportFailure(ctx, task, artifact.ReasonStorageFailure,
				fmt.Sprintf("load template: %v", err))
		}
	}

	cfg, err := w.store.ActiveProvider(taskCtx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return w.reportFailure(ctx, task, artifact.ReasonNotReady, "no active provider")
		}
		return w.reportFailure(ctx, task, artifact.ReasonStorageFailure,
			fmt.Sprintf("load provider: %v", err))
	}
	if !cfg.Enabled {
		return w.reportFailure(ctx, task, artifact.ReasonNotReady,
			fmt.Sprintf("provider %s is disabled", cfg.Name))
	}

	content, err := w.store.GetBlob(taskCtx, a.NormalizedRef)
	if err != nil {
		return w.reportFailure(ctx, task, artifact.ReasonStorageFailure,
			fmt.Sprintf("load normalized content: %v", err))
	}

	rendered, err := prompt.Render(tmpl, map[string]string{
		"title":      a.Title,
		"uri":        a.URI,
		"content":    string(content),
		"categories": categoryGuidance(r),
	})
	if err != nil {
		// Unbound variables are a catalog misconfiguration; retrying the
		// same template cannot help.
		return w.reportFailure(ctx, task, artifact.ReasonNotReady,
			fmt.Sprintf("render template %s: %v", tmpl.ID, err))
	}

	result, err := w.scorer.Evaluate(taskCtx, cfg, rendered.System, rendered.User, r.CategoryKeys())
	if err != nil {
		return w.reportFailure(ctx, task, evalReason(err),
			fmt.Sprintf("provider %s: %v", cfg.Name, err))
	}

	score, err := rubric.Apply(r, result.Scores, result.Confidence)
	if err != nil {
		var missing *rubric.MissingCategoryError
		if errors.As(err, &missing) {
			return w.reportFailure(ctx, task, artifact.ReasonMissingCategoryScore, err.Error())
		}
		return w.reportFailure(ctx, task, artifact.ReasonNotReady,
			fmt.Sprintf("apply rubric %s: %v", r.Version, err))
	}

	w.logger.Info("Evaluated artifact",
		"artifact_id", a.ID,
		"rubric", r.Version,
		"label", score.Label,
		"total", score.Total,
		"confidence", score.Confidence)

	return w.report(ctx, &artifact.ResultPayload{
		JobID:   task.JobID,
		Attempt: task.Attempt,
		Outcome: artifact.OutcomeSuccess,
		Evaluation: &artifact.Evaluation{
			ArtifactID:     a.ID,
			RubricVersion:  r.Version,
			Label:          string(score.Label),
			TotalScore:     score.Total,
			Confidence:     score.Confidence,
			CategoryScores: score.PerCategory,
			Signals:        result.Signals,
			Model:          result.Model,
			Provider:       result.Provider,
			CreatedAt:      w.now(),
		},
		Worker: "evaluator",
	})
}

// evalReason maps a scoring error to a failure reason code. Transient,
// fatal, and soft-limit errors all report as provider errors: the attempt
// ceiling bounds futile retries, and configuration fixes get picked up on
// the next attempt.
func evalReason(err error) string {
	if llm.IsMalformedOutput(err) {
		return artifact.ReasonMalformedLLMOutput
	}
	return artifact.ReasonTransientProvider
}

// categoryGuidance renders the rubric's categories as instruction text for
// the {categories} template variable.
func categoryGuidance(r *rubric.Rubric) string {
	keys := r.CategoryKeys()

	var b strings.Builder
	for _, key := range keys {
		cat := r.Categories[key]
		fmt.Fprintf(&b, "- %s (weight %.2g): %s\n", key, cat.Weight, cat.Guidance)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (w *worker) reportFailure(ctx context.Context, task *artifact.TaskPayload, code, detail string) error {
	w.logger.Warn("Evaluate task failed",
		"job_id", task.JobID,
		"artifact_id", task.ArtifactID,
		"error_code", code,
		"detail", detail)

	return w.report(ctx, &artifact.ResultPayload{
		JobID:     task.JobID,
		Attempt:   task.Attempt,
		Outcome:   artifact.OutcomeFailure,
		ErrorCode: code,
		Detail:    detail,
		Worker:    "evaluator",
	})
}

func (w *worker) report(ctx context.Context, result *artifact.ResultPayload) error {
	baseMsg := message.NewBaseMessage(result.Schema(), result, "evaluator")
	data, err := json.Marshal(baseMsg)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := w.pub.PublishToStream(ctx, artifact.SubjectJobResult, data); err != nil {
		return fmt.Errorf("publish result: %w", err)
	}
	return nil
}
