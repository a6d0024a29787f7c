package normalizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/semstreams/message"

	"github.com/c360studio/sieve/artifact"
	"github.com/c360studio/sieve/storage"
)

// Store is the storage surface the worker needs.
type Store interface {
	GetArtifact(ctx context.Context, id storage.EntityID) (*artifact.Artifact, error)
	GetBlob(ctx context.Context, ref string) ([]byte, error)
	PutBlob(ctx context.Context, artifactID, kind string, data []byte) (string, error)
}

// Publisher publishes result messages back to the orchestrator.
type Publisher interface {
	PublishToStream(ctx context.Context, subject string, data []byte) error
}

// contentNormalizer converts raw artifact bytes to normalized text.
type contentNormalizer interface {
	Normalize(mimeType, uri string, raw []byte) (*Result, error)
}

// worker executes normalize tasks and reports results. Every task produces
// exactly one result message; classification of failures into retryable and
// fatal reasons happens here so the orchestrator can schedule accordingly.
type worker struct {
	store      Store
	pub        Publisher
	normalizer contentNormalizer
	logger     *slog.Logger

	// softLimit applies when the task does not carry its own limit.
	softLimit time.Duration
}

type normalizeOutcome struct {
	result *Result
	err    error
}

// process runs one normalize task to completion and publishes the result.
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
		return w.reportFailure(ctx, task, artifact.ReasonUnsupportedFormat,
			fmt.Sprintf("malformed artifact ID: %v", err))
	}

	a, err := w.store.GetArtifact(taskCtx, id)
	if err != nil {
		return w.reportFailure(ctx, task, artifact.ReasonStorageError,
			fmt.Sprintf("load artifact: %v", err))
	}

	raw, err := w.store.GetBlob(taskCtx, a.RawRef)
	if err != nil {
		return w.reportFailure(ctx, task, artifact.ReasonStorageError,
			fmt.Sprintf("load raw content: %v", err))
	}

	// Conversion is CPU-bound and cannot observe the context, so it runs
	// in its own goroutine and the soft limit races it.
	done := make(chan normalizeOutcome, 1)
	go func() {
		res, normErr := w.normalizer.Normalize(a.MimeType, a.URI, raw)
		done <- normalizeOutcome{result: res, err: normErr}
	}()

	var out normalizeOutcome
	select {
	case <-taskCtx.Done():
		return w.reportFailure(ctx, task, artifact.ReasonConversionTimeout,
			fmt.Sprintf("conversion exceeded soft limit of %s", limit))
	case out = <-done:
	}

	if out.err != nil {
		if errors.Is(out.err, ErrUnsupportedFormat) {
			return w.reportFailure(ctx, task, artifact.ReasonUnsupportedFormat, out.err.Error())
		}
		// Conversion errors are content-determined; retrying the same
		// bytes cannot change the outcome.
		return w.reportFailure(ctx, task, artifact.ReasonUnsupportedFormat,
			fmt.Sprintf("conversion failed: %v", out.err))
	}

	ref, err := w.store.PutBlob(taskCtx, a.ID, storage.BlobNormalized, []byte(out.result.Text))
	if err != nil {
		return w.reportFailure(ctx, task, artifact.ReasonStorageError,
			fmt.Sprintf("store normalized content: %v", err))
	}

	w.logger.Debug("Normalized artifact",
		"artifact_id", a.ID,
		"mime_type", a.MimeType,
		"bytes_in", len(raw),
		"bytes_out", len(out.result.Text))

	return w.report(ctx, &artifact.ResultPayload{
		JobID:         task.JobID,
		Attempt:       task.Attempt,
		Outcome:       artifact.OutcomeSuccess,
		NormalizedRef: ref,
		Title:         out.result.Title,
		Worker:        "normalizer",
	})
}

func (w *worker) reportFailure(ctx context.Context, task *artifact.TaskPayload, code, detail string) error {
	w.logger.Warn("Normalize task failed",
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
		Worker:    "normalizer",
	})
}

func (w *worker) report(ctx context.Context, result *artifact.ResultPayload) error {
	baseMsg := message.NewBaseMessage(result.Schema(), result, "normalizer")
	data, err := json.Marshal(baseMsg)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := w.pub.PublishToStream(ctx, artifact.SubjectJobResult, data); err != nil {
		return fmt.Errorf("publish result: %w", err)
	}
	return nil
}
