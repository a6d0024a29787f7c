package triageapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/c360studio/semstreams/message"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360studio/sieve/artifact"
	"github.com/c360studio/sieve/storage"
)

// maxRequestBodySize limits POST body sizes to prevent DoS.
const maxRequestBodySize = 1 << 20 // 1 MB

// Artifact triage states reported by the status endpoint.
const (
	StateReadyToEvaluate      = "ready-to-evaluate"
	StateNotReady             = "not-ready"
	StateEvaluationInProgress = "evaluation-in-progress"
	StateEvaluationComplete   = "evaluation-complete"
	StateEvaluationFailed     = "evaluation-failed"
)

// RegisterHTTPHandlers registers all triage-api HTTP handlers under the
// given prefix. The prefix should be the path segment without a trailing
// slash (e.g. "api/triage"). Handlers are registered as:
//
//	GET  <prefix>/artifacts
//	GET  <prefix>/artifacts/{id}
//	GET  <prefix>/artifacts/{id}/status
//	GET  <prefix>/artifacts/{id}/evaluations
//	POST <prefix>/artifacts/{id}/evaluate
//	POST <prefix>/jobs/{id}/cancel
//	GET  <prefix>/jobs/{id}
//	GET  <prefix>/rubrics
//	GET  <prefix>/rubrics/{version}
//	GET  <prefix>/metrics
func (c *Component) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix = prefix + "/"
	}

	mux.HandleFunc("GET "+prefix+"artifacts", c.handleListArtifacts)
	mux.HandleFunc("GET "+prefix+"artifacts/{id}", c.handleGetArtifact)
	mux.HandleFunc("GET "+prefix+"artifacts/{id}/status", c.handleArtifactStatus)
	mux.HandleFunc("GET "+prefix+"artifacts/{id}/evaluations", c.handleListEvaluations)
	mux.HandleFunc("POST "+prefix+"artifacts/{id}/evaluate", c.handleEvaluate)
	mux.HandleFunc("POST "+prefix+"jobs/{id}/cancel", c.handleCancelJob)
	mux.HandleFunc("GET "+prefix+"jobs/{id}", c.handleGetJob)
	mux.HandleFunc("GET "+prefix+"rubrics", c.handleListRubrics)
	mux.HandleFunc("GET "+prefix+"rubrics/{version}", c.handleGetRubric)
	mux.Handle("GET "+prefix+"metrics", promhttp.Handler())
}

// ----------------------------------------------------------------------------
// GET /artifacts
// ----------------------------------------------------------------------------

func (c *Component) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	artifacts, err := c.store.ListArtifacts(r.Context())
	if err != nil {
		c.logger.Error("Failed to list artifacts", "error", err)
		http.Error(w, "Failed to list artifacts", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"artifacts": artifacts})
}

// ----------------------------------------------------------------------------
// GET /artifacts/{id}
// ----------------------------------------------------------------------------

func (c *Component) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	a, ok := c.loadArtifact(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ----------------------------------------------------------------------------
// GET /artifacts/{id}/status
// ----------------------------------------------------------------------------

// ArtifactStatus is the response from GET /artifacts/{id}/status. State is
// always set; the remaining fields are populated per state.
type ArtifactStatus struct {
	ArtifactID string `json:"artifact_id"`
	State      string `json:"state"`

	// Reasons explains a not-ready state.
	Reasons []string `json:"reasons,omitempty"`

	// RubricVersion and ProviderName describe what an evaluation would run
	// against, when resolvable.
	RubricVersion string `json:"rubric_version,omitempty"`
	ProviderName  string `json:"provider_name,omitempty"`

	// Evaluation is set for evaluation-complete.
	Evaluation *artifact.Evaluation `json:"evaluation,omitempty"`

	// ErrorCode and Attempts describe an evaluation-failed state.
	ErrorCode   string `json:"error_code,omitempty"`
	ErrorDetail string `json:"error_detail,omitempty"`
	Attempts    int    `json:"attempts,omitempty"`
}

// handleArtifactStatus reports where one artifact sits in the triage
// lifecycle. A completed evaluation under the active rubric wins over
// everything else; an in-flight claim wins over past failures.
func (c *Component) handleArtifactStatus(w http.ResponseWriter, r *http.Request) {
	a, ok := c.loadArtifact(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	decision, err := c.checker.Check(ctx, a.ID, "")
	if err != nil {
		c.logger.Error("Readiness check failed", "artifact_id", a.ID, "error", err)
		http.Error(w, "Readiness check failed", http.StatusInternalServerError)
		return
	}

	status := ArtifactStatus{
		ArtifactID:    a.ID,
		RubricVersion: decision.RubricVersion,
		ProviderName:  decision.ProviderName,
	}

	if decision.RubricVersion != "" {
		ev, err := c.store.GetEvaluation(ctx, a.ID, decision.RubricVersion)
		if err == nil {
			status.State = StateEvaluationComplete
			status.Evaluation = ev
			writeJSON(w, http.StatusOK, status)
			return
		}
		if !errors.Is(err, storage.ErrNotFound) {
			c.logger.Error("Failed to load evaluation", "artifact_id", a.ID, "error", err)
			http.Error(w, "Failed to load evaluation", http.StatusInternalServerError)
			return
		}
	}

	if decision.RubricVersion != "" {
		if claim, err := c.store.GetInflightClaim(ctx, a.ID, decision.RubricVersion); err == nil && claim != nil {
			status.State = StateEvaluationInProgress
			writeJSON(w, http.StatusOK, status)
			return
		}
	}

	if j := c.latestEvaluateJob(ctx, a.ID); j != nil && j.Status == artifact.JobStatusFailed {
		status.State = StateEvaluationFailed
		status.ErrorCode = j.ErrorCode
		status.ErrorDetail = j.ErrorDetail
		status.Attempts = j.Attempt
		writeJSON(w, http.StatusOK, status)
		return
	}

	if decision.Ready {
		status.State = StateReadyToEvaluate
	} else {
		status.State = StateNotReady
		status.Reasons = decision.Reasons
	}
	writeJSON(w, http.StatusOK, status)
}

// latestEvaluateJob returns the most recently enqueued evaluate job for the
// artifact, nil when there is none or the lookup fails.
func (c *Component) latestEvaluateJob(ctx context.Context, artifactID string) *artifact.Job {
	jobs, err := c.store.ListJobsByArtifact(ctx, artifactID)
	if err != nil {
		c.logger.Warn("Failed to list jobs", "artifact_id", artifactID, "error", err)
		return nil
	}

	var latest *artifact.Job
	for _, j := range jobs {
		if j.Type != artifact.JobTypeEvaluate {
			continue
		}
		if latest == nil || j.EnqueuedAt.After(latest.EnqueuedAt) {
			latest = j
		}
	}
	return latest
}

// ----------------------------------------------------------------------------
// GET /artifacts/{id}/evaluations
// ----------------------------------------------------------------------------

func (c *Component) handleListEvaluations(w http.ResponseWriter, r *http.Request) {
	a, ok := c.loadArtifact(w, r)
	if !ok {
		return
	}

	evals, err := c.store.ListEvaluations(r.Context(), a.ID)
	if err != nil {
		c.logger.Error("Failed to list evaluations", "artifact_id", a.ID, "error", err)
		http.Error(w, "Failed to list evaluations", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"evaluations": evals})
}

// ----------------------------------------------------------------------------
// POST /artifacts/{id}/evaluate
// ----------------------------------------------------------------------------

// EvaluateRequest is the optional request body for POST /artifacts/{id}/evaluate.
type EvaluateRequest struct {
	// RubricVersion overrides the active rubric for this evaluation.
	RubricVersion string `json:"rubric_version,omitempty"`
}

// EvaluateResponse is the response from a 202 Accepted evaluate request.
type EvaluateResponse struct {
	ArtifactID    string `json:"artifact_id"`
	RequestID     string `json:"request_id"`
	RubricVersion string `json:"rubric_version,omitempty"`
}

// RejectionResponse is the 409 body when a request cannot be accepted.
type RejectionResponse struct {
	Error   string   `json:"error"`
	Reasons []string `json:"reasons,omitempty"`
}

// handleEvaluate gates an explicit evaluation request and, when the
// artifact is ready, hands it to the orchestrator. The orchestrator gates
// again before dispatch; this check exists to give callers a synchronous
// rejection instead of an eventually-failed job.
func (c *Component) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	a, ok := c.loadArtifact(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	// The body is optional; an empty body means "use the active rubric".
	var req EvaluateRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	decision, err := c.checker.Check(ctx, a.ID, req.RubricVersion)
	if err != nil {
		c.logger.Error("Readiness check failed", "artifact_id", a.ID, "error", err)
		http.Error(w, "Readiness check failed", http.StatusInternalServerError)
		return
	}
	if !decision.Ready {
		writeJSON(w, http.StatusConflict, RejectionResponse{
			Error:   "artifact is not ready to evaluate",
			Reasons: decision.Reasons,
		})
		return
	}

	rubricVersion := req.RubricVersion
	if rubricVersion != "" {
		if _, err := c.store.GetRubric(ctx, rubricVersion); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				writeJSON(w, http.StatusConflict, RejectionResponse{
					Error:   "requested rubric version not found",
					Reasons: []string{"requested rubric version not found"},
				})
				return
			}
			c.logger.Error("Failed to load rubric", "version", rubricVersion, "error", err)
			http.Error(w, "Failed to load rubric", http.StatusInternalServerError)
			return
		}
	}

	payload := &artifact.EvaluateRequestPayload{
		ArtifactID:    a.ID,
		RubricVersion: rubricVersion,
		RequestID:     uuid.New().String(),
	}
	if err := c.publish(ctx, artifact.SubjectEvaluateRequested, payload); err != nil {
		c.logger.Error("Failed to publish evaluate request", "artifact_id", a.ID, "error", err)
		http.Error(w, "Failed to publish evaluate request", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, EvaluateResponse{
		ArtifactID:    a.ID,
		RequestID:     payload.RequestID,
		RubricVersion: rubricVersion,
	})
}

// ----------------------------------------------------------------------------
// POST /jobs/{id}/cancel
// ----------------------------------------------------------------------------

// CancelResponse is the response from a 202 Accepted cancel request.
type CancelResponse struct {
	JobID       string    `json:"job_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// handleCancelJob requests cancellation of a queued job. Only queued jobs
// are cancellable; the orchestrator enforces that again when it processes
// the request, so a 202 is acknowledgement, not a guarantee.
func (c *Component) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	j, ok := c.loadJob(w, r)
	if !ok {
		return
	}

	if j.Status != artifact.JobStatusQueued {
		writeJSON(w, http.StatusConflict, RejectionResponse{
			Error:   "only queued jobs can be cancelled",
			Reasons: []string{"job is " + string(j.Status)},
		})
		return
	}

	payload := &artifact.CancelPayload{
		JobID:  j.ID,
		Reason: "cancelled by operator",
	}
	if err := c.publish(r.Context(), artifact.SubjectJobCancel, payload); err != nil {
		c.logger.Error("Failed to publish cancel request", "job_id", j.ID, "error", err)
		http.Error(w, "Failed to publish cancel request", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, CancelResponse{
		JobID:       j.ID,
		RequestedAt: time.Now().UTC(),
	})
}

// ----------------------------------------------------------------------------
// GET /jobs/{id}
// ----------------------------------------------------------------------------

func (c *Component) handleGetJob(w http.ResponseWriter, r *http.Request) {
	j, ok := c.loadJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// ----------------------------------------------------------------------------
// GET /rubrics
// ----------------------------------------------------------------------------

func (c *Component) handleListRubrics(w http.ResponseWriter, r *http.Request) {
	rubrics, err := c.store.ListRubrics(r.Context())
	if err != nil {
		c.logger.Error("Failed to list rubrics", "error", err)
		http.Error(w, "Failed to list rubrics", http.StatusInternalServerError)
		return
	}

	active := ""
	if current, err := c.store.GetPointer(r.Context(), storage.PointerActiveRubric); err == nil {
		active = current
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rubrics": rubrics,
		"active":  active,
	})
}

// ----------------------------------------------------------------------------
// GET /rubrics/{version}
// ----------------------------------------------------------------------------

func (c *Component) handleGetRubric(w http.ResponseWriter, r *http.Request) {
	version := r.PathValue("version")

	rb, err := c.store.GetRubric(r.Context(), version)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "Rubric not found", http.StatusNotFound)
			return
		}
		c.logger.Error("Failed to load rubric", "version", version, "error", err)
		http.Error(w, "Failed to load rubric", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rb)
}

// ----------------------------------------------------------------------------
// Helpers
// ----------------------------------------------------------------------------

// loadArtifact resolves the {id} path value to an artifact, writing the
// error response itself when the ID is malformed or unknown.
func (c *Component) loadArtifact(w http.ResponseWriter, r *http.Request) (*artifact.Artifact, bool) {
	id, err := storage.ParseEntityID(r.PathValue("id"))
	if err != nil || id.Type != storage.EntityTypeArtifact {
		http.Error(w, "Invalid artifact ID", http.StatusBadRequest)
		return nil, false
	}

	a, err := c.store.GetArtifact(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "Artifact not found", http.StatusNotFound)
			return nil, false
		}
		c.logger.Error("Failed to load artifact", "artifact_id", id.String(), "error", err)
		http.Error(w, "Failed to load artifact", http.StatusInternalServerError)
		return nil, false
	}
	return a, true
}

// loadJob resolves the {id} path value to a job.
func (c *Component) loadJob(w http.ResponseWriter, r *http.Request) (*artifact.Job, bool) {
	id, err := storage.ParseEntityID(r.PathValue("id"))
	if err != nil || id.Type != storage.EntityTypeJob {
		http.Error(w, "Invalid job ID", http.StatusBadRequest)
		return nil, false
	}

	j, _, err := c.store.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "Job not found", http.StatusNotFound)
			return nil, false
		}
		c.logger.Error("Failed to load job", "job_id", id.String(), "error", err)
		http.Error(w, "Failed to load job", http.StatusInternalServerError)
		return nil, false
	}
	return j, true
}

func (c *Component) publish(ctx context.Context, subject string, payload message.Payload) error {
	baseMsg := message.NewBaseMessage(payload.Schema(), payload, "triage-api")
	data, err := json.Marshal(baseMsg)
	if err != nil {
		return err
	}
	return c.pub.PublishToStream(ctx, subject, data)
}

// writeJSON marshals v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
