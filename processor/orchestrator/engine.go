package orchestrator

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
	"github.com/c360studio/sieve/gate"
	"github.com/c360studio/sieve/rubric"
	"github.com/c360studio/sieve/storage"
)

// Store is the slice of the entity store the orchestrator drives.
type Store interface {
	GetArtifact(ctx context.Context, id storage.EntityID) (*artifact.Artifact, error)
	UpdateArtifact(ctx context.Context, a *artifact.Artifact) error
	CreateJob(ctx context.Context, j *artifact.Job) (storage.EntityID, error)
	GetJob(ctx context.Context, id storage.EntityID) (*artifact.Job, uint64, error)
	UpdateJob(ctx context.Context, j *artifact.Job, revision uint64) error
	ListJobs(ctx context.Context) ([]*artifact.Job, error)
	PutEvaluation(ctx context.Context, e *artifact.Evaluation) error
	GetRubric(ctx context.Context, version string) (*rubric.Rubric, error)
	AcquireInflight(ctx context.Context, artifactID, rubricVersion, jobID string) error
	ReleaseInflight(ctx context.Context, artifactID, rubricVersion, jobID string) error
}

// Publisher publishes messages to a JetStream subject.
type Publisher interface {
	PublishToStream(ctx context.Context, subject string, data []byte) error
}

// Checker runs readiness checks; *gate.Gate satisfies it.
type Checker interface {
	Check(ctx context.Context, artifactID, rubricVersion string) (*gate.Decision, error)
}

// engine holds the orchestration logic, separated from the component
// lifecycle so event handling can be exercised without NATS.
type engine struct {
	store   Store
	pub     Publisher
	gate    Checker
	policy  RetryPolicy
	metrics *Metrics
	logger  *slog.Logger

	maxAttempts        int
	normalizeSoftLimit time.Duration
	evaluateSoftLimit  time.Duration
	hardTimeout        time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// publish wraps a payload in the message envelope and sends it.
func (e *engine) publish(ctx context.Context, subject string, payload message.Payload) error {
	baseMsg := message.NewBaseMessage(payload.Schema(), payload, "orchestrator")
	data, err := json.Marshal(baseMsg)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if err := e.pub.PublishToStream(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (e *engine) softLimitFor(t artifact.JobType) time.Duration {
	if t == artifact.JobTypeEvaluate {
		return e.evaluateSoftLimit
	}
	return e.normalizeSoftLimit
}

// dispatchJob publishes the job's task and moves it queued -> running.
// Marking running happens before the publish: if the process dies between
// the two, the hard-timeout sweeper recovers the job, whereas the reverse
// order could lose a worker's result against a still-queued job.
func (e *engine) dispatchJob(ctx context.Context, j *artifact.Job, revision uint64) error {
	now := e.now()
	j.Status = artifact.JobStatusRunning
	j.StartedAt = &now
	if err := e.store.UpdateJob(ctx, j, revision); err != nil {
		return fmt.Errorf("mark job running: %w", err)
	}

	task := &artifact.TaskPayload{
		JobID:         j.ID,
		JobType:       j.Type,
		ArtifactID:    j.ArtifactID,
		Attempt:       j.Attempt,
		RubricVersion: j.RubricVersion,
		SoftLimitMs:   e.softLimitFor(j.Type).Milliseconds(),
	}
	if err := e.publish(ctx, artifact.TaskSubjectFor(j.Type), task); err != nil {
		return err
	}

	e.metrics.JobsEnqueued.WithLabelValues(string(j.Type)).Inc()
	return nil
}

// failJob transitions a job to failed with the given reason. Best effort on
// CAS conflicts: the competing writer owns the job now.
func (e *engine) failJob(ctx context.Context, j *artifact.Job, revision uint64, code, detail string) error {
	j.Status = artifact.JobStatusFailed
	j.ErrorCode = code
	j.ErrorDetail = detail
	if err := e.store.UpdateJob(ctx, j, revision); err != nil {
		return fmt.Errorf("fail job: %w", err)
	}

	e.metrics.JobsFailed.WithLabelValues(string(j.Type), code).Inc()
	// Release is owner-checked: a job that never won the claim (or lost
	// it to a successor attempt) cannot free another job's slot.
	if j.Type == artifact.JobTypeEvaluate && j.RubricVersion != "" {
		if err := e.store.ReleaseInflight(ctx, j.ArtifactID, j.RubricVersion, j.ID); err != nil {
			e.logger.Warn("Failed to release inflight claim", "artifact_id", j.ArtifactID, "error", err)
		}
	}
	return nil
}

// handleArtifactCreated creates and dispatches the normalize job for a new
// artifact. A created event naming an unknown artifact yields a failed job
// with invalid-target so the bad reference is visible, not silently dropped.
func (e *engine) handleArtifactCreated(ctx context.Context, p *artifact.CreatedPayload) error {
	job := &artifact.Job{
		Type:        artifact.JobTypeNormalize,
		ArtifactID:  p.ArtifactID,
		SourceID:    p.SourceID,
		Attempt:     1,
		MaxAttempts: e.maxAttempts,
	}

	id, parseErr := storage.ParseEntityID(p.ArtifactID)
	var lookupErr error
	if parseErr == nil {
		_, lookupErr = e.store.GetArtifact(ctx, id)
	}

	if parseErr != nil || errors.Is(lookupErr, storage.ErrNotFound) {
		jobID, err := e.store.CreateJob(ctx, job)
		if err != nil {
			return fmt.Errorf("create job: %w", err)
		}
		j, rev, err := e.store.GetJob(ctx, jobID)
		if err != nil {
			return fmt.Errorf("reload job: %w", err)
		}
		e.logger.Warn("Created event names unknown artifact", "artifact_id", p.ArtifactID)
		return e.failJob(ctx, j, rev, artifact.ReasonInvalidTarget, "artifact does not exist")
	}
	if lookupErr != nil {
		return fmt.Errorf("load artifact: %w", lookupErr)
	}

	jobID, err := e.store.CreateJob(ctx, job)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	j, rev, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("reload job: %w", err)
	}
	return e.dispatchJob(ctx, j, rev)
}

// handleEvaluateRequested gates the request and either enqueues an evaluate
// job or surfaces why it cannot run.
func (e *engine) handleEvaluateRequested(ctx context.Context, p *artifact.EvaluateRequestPayload) error {
	decision, err := e.gate.Check(ctx, p.ArtifactID, p.RubricVersion)
	if err != nil {
		return fmt.Errorf("gate check: %w", err)
	}

	// An in-flight evaluation of the same (artifact, rubric version) pair
	// coalesces; the requester will see its result. A request pinned to a
	// different version passes the gate and runs alongside.
	if !decision.Ready && len(decision.Reasons) == 1 && decision.Reasons[0] == gate.ReasonEvaluationInflight {
		e.logger.Info("Evaluate request coalesced with in-flight evaluation",
			"artifact_id", p.ArtifactID, "request_id", p.RequestID)
		return nil
	}

	rubricVersion := decision.RubricVersion
	if p.RubricVersion != "" {
		if _, err := e.store.GetRubric(ctx, p.RubricVersion); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				decision.Ready = false
				decision.Reasons = append(decision.Reasons, "requested rubric version not found")
			} else {
				return fmt.Errorf("load requested rubric: %w", err)
			}
		} else {
			rubricVersion = p.RubricVersion
		}
	}

	job := &artifact.Job{
		Type:          artifact.JobTypeEvaluate,
		ArtifactID:    p.ArtifactID,
		Attempt:       1,
		MaxAttempts:   e.maxAttempts,
		RubricVersion: rubricVersion,
	}
	jobID, err := e.store.CreateJob(ctx, job)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	j, rev, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("reload job: %w", err)
	}

	if !decision.Ready {
		detail := strings.Join(decision.Reasons, "; ")
		if err := e.failJob(ctx, j, rev, artifact.ReasonNotReady, detail); err != nil {
			return err
		}
		result := &artifact.ResultPayload{
			JobID:     j.ID,
			Attempt:   j.Attempt,
			Outcome:   artifact.OutcomeFailure,
			ErrorCode: artifact.ReasonNotReady,
			Detail:    detail,
			Worker:    "orchestrator",
		}
		if err := e.publish(ctx, artifact.SubjectJobResult, result); err != nil {
			e.logger.Warn("Failed to publish not-ready result", "job_id", j.ID, "error", err)
		}
		return nil
	}

	// Claim the pair's slot. Losing the race means a concurrent request
	// got there first; this job coalesces into that one.
	if err := e.store.AcquireInflight(ctx, p.ArtifactID, j.RubricVersion, j.ID); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return e.failJob(ctx, j, rev, artifact.ReasonNotReady, gate.ReasonEvaluationInflight)
		}
		return fmt.Errorf("acquire inflight claim: %w", err)
	}

	return e.dispatchJob(ctx, j, rev)
}

// handleResult applies a worker's report: stage side effect first, then the
// job transition, so re-delivery after a crash can only repeat committed
// work, never skip it.
func (e *engine) handleResult(ctx context.Context, p *artifact.ResultPayload) error {
	id, err := storage.ParseEntityID(p.JobID)
	if err != nil {
		e.logger.Warn("Result names malformed job ID", "job_id", p.JobID)
		return nil
	}

	j, rev, err := e.store.GetJob(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		e.logger.Warn("Result for unknown job", "job_id", p.JobID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}

	// Idempotency: only a running job's current attempt may report.
	if j.Status != artifact.JobStatusRunning || p.Attempt != j.Attempt {
		e.logger.Debug("Ignoring stale result",
			"job_id", p.JobID, "status", j.Status,
			"job_attempt", j.Attempt, "result_attempt", p.Attempt)
		return nil
	}

	if p.Outcome == artifact.OutcomeSuccess {
		return e.applySuccess(ctx, j, rev, p)
	}
	return e.applyFailure(ctx, j, rev, p.ErrorCode, p.Detail)
}

func (e *engine) applySuccess(ctx context.Context, j *artifact.Job, rev uint64, p *artifact.ResultPayload) error {
	artifactID, err := storage.ParseEntityID(j.ArtifactID)
	if err != nil {
		return e.failJob(ctx, j, rev, artifact.ReasonInvalidTarget, "job references malformed artifact ID")
	}

	switch j.Type {
	case artifact.JobTypeNormalize:
		a, err := e.store.GetArtifact(ctx, artifactID)
		if err != nil {
			return fmt.Errorf("load artifact for side effect: %w", err)
		}
		a.NormalizedRef = p.NormalizedRef
		if p.Title != "" {
			a.Title = p.Title
		}
		if err := e.store.UpdateArtifact(ctx, a); err != nil {
			return fmt.Errorf("commit normalize side effect: %w", err)
		}

	case artifact.JobTypeEvaluate:
		if p.Evaluation == nil {
			return e.applyFailure(ctx, j, rev, artifact.ReasonMalformedLLMOutput, "success result without evaluation")
		}
		if err := e.store.PutEvaluation(ctx, p.Evaluation); err != nil {
			return fmt.Errorf("commit evaluation: %w", err)
		}
		a, err := e.store.GetArtifact(ctx, artifactID)
		if err != nil {
			return fmt.Errorf("load artifact for side effect: %w", err)
		}
		now := e.now()
		a.EvaluatedAt = &now
		if err := e.store.UpdateArtifact(ctx, a); err != nil {
			return fmt.Errorf("commit evaluate side effect: %w", err)
		}
	}

	j.Status = artifact.JobStatusSucceeded
	j.ErrorCode = ""
	j.ErrorDetail = ""
	if err := e.store.UpdateJob(ctx, j, rev); err != nil {
		if errors.Is(err, storage.ErrRevisionConflict) {
			e.logger.Debug("Job transitioned concurrently", "job_id", j.ID)
			return nil
		}
		return fmt.Errorf("mark job succeeded: %w", err)
	}
	e.metrics.JobsSucceeded.WithLabelValues(string(j.Type)).Inc()

	if j.Type == artifact.JobTypeEvaluate && j.RubricVersion != "" {
		if err := e.store.ReleaseInflight(ctx, j.ArtifactID, j.RubricVersion, j.ID); err != nil {
			e.logger.Warn("Failed to release inflight claim", "artifact_id", j.ArtifactID, "error", err)
		}
	}

	if next, ok := nextStage(j.Type); ok && next == artifact.JobTypeEvaluate {
		req := &artifact.EvaluateRequestPayload{ArtifactID: j.ArtifactID}
		if err := e.handleEvaluateRequested(ctx, req); err != nil {
			e.logger.Warn("Failed to enqueue follow-up evaluation",
				"artifact_id", j.ArtifactID, "error", err)
		}
	}

	return nil
}

func (e *engine) applyFailure(ctx context.Context, j *artifact.Job, rev uint64, code, detail string) error {
	plan := planFailure(j, code, e.policy, e.now())

	if plan.Status == artifact.JobStatusRetrying {
		j.Status = artifact.JobStatusRetrying
		j.ErrorCode = code
		j.ErrorDetail = detail
		j.NextRetryAt = &plan.NextRetryAt
		if err := e.store.UpdateJob(ctx, j, rev); err != nil {
			if errors.Is(err, storage.ErrRevisionConflict) {
				return nil
			}
			return fmt.Errorf("mark job retrying: %w", err)
		}
		e.metrics.JobsRetried.WithLabelValues(string(j.Type)).Inc()
		return nil
	}

	if artifact.RetryableReason(code) && !j.AttemptsRemain() {
		detail = fmt.Sprintf("%s (%s after %d attempts)", detail, artifact.ReasonAttemptCeilingReached, j.Attempt)
	}
	if err := e.failJob(ctx, j, rev, code, detail); err != nil {
		if errors.Is(err, storage.ErrRevisionConflict) {
			return nil
		}
		return err
	}
	return nil
}

// handleCancel fails a queued job with reason cancelled. Running jobs are
// left to finish; their result will land normally.
func (e *engine) handleCancel(ctx context.Context, p *artifact.CancelPayload) error {
	id, err := storage.ParseEntityID(p.JobID)
	if err != nil {
		e.logger.Warn("Cancel names malformed job ID", "job_id", p.JobID)
		return nil
	}

	j, rev, err := e.store.GetJob(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		e.logger.Warn("Cancel for unknown job", "job_id", p.JobID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}

	if j.Status != artifact.JobStatusQueued {
		e.logger.Info("Ignoring cancel for non-queued job",
			"job_id", p.JobID, "status", j.Status)
		return nil
	}

	detail := p.Reason
	if detail == "" {
		detail = "cancelled by operator"
	}
	if err := e.failJob(ctx, j, rev, artifact.ReasonCancelled, detail); err != nil {
		if errors.Is(err, storage.ErrRevisionConflict) {
			return nil
		}
		return err
	}
	return nil
}

// sweep requeues due retries and reaps jobs running past the hard timeout.
func (e *engine) sweep(ctx context.Context) {
	jobs, err := e.store.ListJobs(ctx)
	if err != nil {
		e.logger.Warn("Sweep failed to list jobs", "error", err)
		return
	}

	now := e.now()
	for _, j := range jobs {
		switch {
		case j.Status == artifact.JobStatusRetrying && j.NextRetryAt != nil && !j.NextRetryAt.After(now):
			e.requeueRetry(ctx, j)

		case j.Status == artifact.JobStatusRunning && j.StartedAt != nil && now.Sub(*j.StartedAt) > e.hardTimeout:
			e.reapTimedOut(ctx, j)
		}
	}
}

func (e *engine) requeueRetry(ctx context.Context, stale *artifact.Job) {
	id, err := storage.ParseEntityID(stale.ID)
	if err != nil {
		return
	}
	j, rev, err := e.store.GetJob(ctx, id)
	if err != nil || j.Status != artifact.JobStatusRetrying {
		return
	}

	j.Status = artifact.JobStatusQueued
	j.Attempt++
	j.NextRetryAt = nil
	j.StartedAt = nil
	if err := e.store.UpdateJob(ctx, j, rev); err != nil {
		if !errors.Is(err, storage.ErrRevisionConflict) {
			e.logger.Warn("Failed to requeue retry", "job_id", j.ID, "error", err)
		}
		return
	}
	e.metrics.SweeperActions.WithLabelValues("requeue").Inc()

	reloaded, rev2, err := e.store.GetJob(ctx, id)
	if err != nil {
		e.logger.Warn("Failed to reload requeued job", "job_id", j.ID, "error", err)
		return
	}
	if err := e.dispatchJob(ctx, reloaded, rev2); err != nil {
		e.logger.Warn("Failed to dispatch requeued job", "job_id", j.ID, "error", err)
	}
}

func (e *engine) reapTimedOut(ctx context.Context, stale *artifact.Job) {
	id, err := storage.ParseEntityID(stale.ID)
	if err != nil {
		return
	}
	j, rev, err := e.store.GetJob(ctx, id)
	if err != nil || j.Status != artifact.JobStatusRunning {
		return
	}

	e.metrics.SweeperActions.WithLabelValues("hard_timeout").Inc()
	if err := e.applyFailure(ctx, j, rev, artifact.ReasonHardTimeout,
		fmt.Sprintf("no result after %s", e.hardTimeout)); err != nil {
		e.logger.Warn("Failed to reap timed-out job", "job_id", j.ID, "error", err)
	}
}
