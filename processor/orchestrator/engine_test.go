package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/sieve/artifact"
	"github.com/c360studio/sieve/gate"
	"github.com/c360studio/sieve/llm"
	"github.com/c360studio/sieve/rubric"
	"github.com/c360studio/sieve/storage"
)

type storedJob struct {
	job      artifact.Job
	revision uint64
}

type fakeStore struct {
	artifacts   map[string]*artifact.Artifact
	jobs        map[string]*storedJob
	evaluations map[string]*artifact.Evaluation
	rubrics     map[string]*rubric.Rubric
	inflight    map[string]string

	// activeRubric and provider back the gate sources for tests that run
	// the real gate in front of the engine.
	activeRubric string
	provider     *llm.ProviderConfig
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		artifacts:   map[string]*artifact.Artifact{},
		jobs:        map[string]*storedJob{},
		evaluations: map[string]*artifact.Evaluation{},
		rubrics:     map[string]*rubric.Rubric{},
		inflight:    map[string]string{},
	}
}

func (f *fakeStore) GetArtifact(_ context.Context, id storage.EntityID) (*artifact.Artifact, error) {
	a, ok := f.artifacts[id.String()]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *a
	return &copied, nil
}

func (f *fakeStore) UpdateArtifact(_ context.Context, a *artifact.Artifact) error {
	copied := *a
	f.artifacts[a.ID] = &copied
	return nil
}

func (f *fakeStore) CreateJob(_ context.Context, j *artifact.Job) (storage.EntityID, error) {
	id := storage.NewEntityID(storage.EntityTypeJob)
	j.ID = id.String()
	j.Status = artifact.JobStatusQueued
	j.EnqueuedAt = time.Now()
	f.jobs[j.ID] = &storedJob{job: *j, revision: 1}
	return id, nil
}

func (f *fakeStore) GetJob(_ context.Context, id storage.EntityID) (*artifact.Job, uint64, error) {
	s, ok := f.jobs[id.String()]
	if !ok {
		return nil, 0, storage.ErrNotFound
	}
	copied := s.job
	return &copied, s.revision, nil
}

func (f *fakeStore) UpdateJob(_ context.Context, j *artifact.Job, revision uint64) error {
	s, ok := f.jobs[j.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if s.revision != revision {
		return storage.ErrRevisionConflict
	}
	s.job = *j
	s.revision++
	return nil
}

func (f *fakeStore) ListJobs(context.Context) ([]*artifact.Job, error) {
	jobs := make([]*artifact.Job, 0, len(f.jobs))
	for _, s := range f.jobs {
		copied := s.job
		jobs = append(jobs, &copied)
	}
	return jobs, nil
}

func (f *fakeStore) PutEvaluation(_ context.Context, e *artifact.Evaluation) error {
	f.evaluations[e.ArtifactID+"."+e.RubricVersion] = e
	return nil
}

func (f *fakeStore) GetRubric(_ context.Context, version string) (*rubric.Rubric, error) {
	r, ok := f.rubrics[version]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return r, nil
}

func (f *fakeStore) AcquireInflight(_ context.Context, artifactID, rubricVersion, jobID string) error {
	key := artifactID + "." + rubricVersion
	if _, held := f.inflight[key]; held {
		return storage.ErrAlreadyExists
	}
	f.inflight[key] = jobID
	return nil
}

func (f *fakeStore) ReleaseInflight(_ context.Context, artifactID, rubricVersion, jobID string) error {
	key := artifactID + "." + rubricVersion
	if f.inflight[key] == jobID {
		delete(f.inflight, key)
	}
	return nil
}

func (f *fakeStore) GetInflightClaim(_ context.Context, artifactID, rubricVersion string) (*storage.InflightClaim, error) {
	jobID, ok := f.inflight[artifactID+"."+rubricVersion]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &storage.InflightClaim{JobID: jobID, RubricVersion: rubricVersion}, nil
}

func (f *fakeStore) ActiveRubric(context.Context) (*rubric.Rubric, error) {
	r, ok := f.rubrics[f.activeRubric]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return r, nil
}

func (f *fakeStore) ActiveProvider(context.Context) (*llm.ProviderConfig, error) {
	if f.provider == nil {
		return nil, storage.ErrNotFound
	}
	return f.provider, nil
}

func (f *fakeStore) onlyJob(t *testing.T) *artifact.Job {
	t.Helper()
	require.Len(t, f.jobs, 1)
	for _, s := range f.jobs {
		copied := s.job
		return &copied
	}
	return nil
}

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	messages []published
}

func (f *fakePublisher) PublishToStream(_ context.Context, subject string, data []byte) error {
	f.messages = append(f.messages, published{subject: subject, data: data})
	return nil
}

func (f *fakePublisher) taskPayloads(t *testing.T, subject string) []*artifact.TaskPayload {
	t.Helper()
	var tasks []*artifact.TaskPayload
	for _, m := range f.messages {
		if m.subject != subject {
			continue
		}
		p, err := artifact.ParseNATSMessage[artifact.TaskPayload](m.data)
		require.NoError(t, err)
		tasks = append(tasks, p)
	}
	return tasks
}

type fakeChecker struct {
	decision *gate.Decision
	err      error
}

func (f *fakeChecker) Check(context.Context, string, string) (*gate.Decision, error) {
	if f.decision == nil && f.err == nil {
		return &gate.Decision{Ready: false, Reasons: []string{gate.ReasonNoActiveRubric}}, nil
	}
	return f.decision, f.err
}

func newTestEngine(store *fakeStore, pub *fakePublisher, checker Checker) *engine {
	return &engine{
		store:   store,
		pub:     pub,
		gate:    checker,
		policy:  RetryPolicy{BackoffBase: time.Second, Multiplier: 2, MaxBackoff: time.Minute},
		metrics: NewMetrics(prometheus.NewRegistry()),
		logger:  slog.Default(),

		maxAttempts:        3,
		normalizeSoftLimit: 30 * time.Second,
		evaluateSoftLimit:  2 * time.Minute,
		hardTimeout:        10 * time.Minute,
		now:                time.Now,
	}
}

func seedArtifact(f *fakeStore, normalized bool) string {
	id := storage.NewEntityID(storage.EntityTypeArtifact).String()
	a := &artifact.Artifact{ID: id, URI: "https://example.com/post"}
	if normalized {
		a.NormalizedRef = "blob:x/normalized"
	}
	f.artifacts[id] = a
	return id
}

func TestArtifactCreatedEnqueuesNormalize(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	e := newTestEngine(store, pub, &fakeChecker{})
	artifactID := seedArtifact(store, false)

	err := e.handleArtifactCreated(context.Background(), &artifact.CreatedPayload{ArtifactID: artifactID})
	require.NoError(t, err)

	j := store.onlyJob(t)
	assert.Equal(t, artifact.JobTypeNormalize, j.Type)
	assert.Equal(t, artifact.JobStatusRunning, j.Status)
	assert.Equal(t, 1, j.Attempt)

	tasks := pub.taskPayloads(t, artifact.SubjectTaskNormalize)
	require.Len(t, tasks, 1)
	assert.Equal(t, j.ID, tasks[0].JobID)
	assert.Equal(t, int64(30000), tasks[0].SoftLimitMs)
}

func TestArtifactCreatedUnknownTargetFailsImmediately(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	e := newTestEngine(store, pub, &fakeChecker{})

	missing := storage.NewEntityID(storage.EntityTypeArtifact).String()
	err := e.handleArtifactCreated(context.Background(), &artifact.CreatedPayload{ArtifactID: missing})
	require.NoError(t, err)

	j := store.onlyJob(t)
	assert.Equal(t, artifact.JobStatusFailed, j.Status)
	assert.Equal(t, artifact.ReasonInvalidTarget, j.ErrorCode)
	assert.Empty(t, pub.messages, "no task published for an invalid target")
}

func TestResultSuccessCommitsNormalizeSideEffect(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	e := newTestEngine(store, pub, &fakeChecker{
		decision: &gate.Decision{Ready: true, RubricVersion: "v1", ProviderName: "local"},
	})
	store.rubrics["v1"] = &rubric.Rubric{Version: "v1", Categories: map[string]rubric.Category{"relevance": {Weight: 1}}}
	artifactID := seedArtifact(store, false)

	require.NoError(t, e.handleArtifactCreated(context.Background(), &artifact.CreatedPayload{ArtifactID: artifactID}))
	normalizeJob := store.onlyJob(t)

	err := e.handleResult(context.Background(), &artifact.ResultPayload{
		JobID:         normalizeJob.ID,
		Attempt:       1,
		Outcome:       artifact.OutcomeSuccess,
		NormalizedRef: "blob:n/normalized",
		Title:         "Recovered Title",
	})
	require.NoError(t, err)

	assert.Equal(t, "blob:n/normalized", store.artifacts[artifactID].NormalizedRef)
	assert.Equal(t, "Recovered Title", store.artifacts[artifactID].Title)

	// Normalize success chains into an evaluate job behind the gate.
	evalTasks := pub.taskPayloads(t, artifact.SubjectTaskEvaluate)
	require.Len(t, evalTasks, 1)
	assert.Equal(t, "v1", evalTasks[0].RubricVersion)
	assert.Equal(t, evalTasks[0].JobID, store.inflight[artifactID+".v1"], "inflight slot claimed for the evaluate job")
}

func TestResultIdempotentForStaleAttempt(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	e := newTestEngine(store, pub, &fakeChecker{})
	artifactID := seedArtifact(store, false)

	require.NoError(t, e.handleArtifactCreated(context.Background(), &artifact.CreatedPayload{ArtifactID: artifactID}))
	j := store.onlyJob(t)

	// Stale attempt number is a no-op.
	err := e.handleResult(context.Background(), &artifact.ResultPayload{
		JobID: j.ID, Attempt: 7, Outcome: artifact.OutcomeSuccess, NormalizedRef: "blob:stale",
	})
	require.NoError(t, err)
	assert.Empty(t, store.artifacts[artifactID].NormalizedRef)

	// Terminal job is a no-op too, even with the right attempt.
	require.NoError(t, e.handleResult(context.Background(), &artifact.ResultPayload{
		JobID: j.ID, Attempt: 1, Outcome: artifact.OutcomeFailure, ErrorCode: artifact.ReasonUnsupportedFormat,
	}))
	failedAt := store.jobs[j.ID].job.UpdatedAt

	require.NoError(t, e.handleResult(context.Background(), &artifact.ResultPayload{
		JobID: j.ID, Attempt: 1, Outcome: artifact.OutcomeSuccess, NormalizedRef: "blob:late",
	}))
	assert.Equal(t, artifact.JobStatusFailed, store.jobs[j.ID].job.Status)
	assert.Equal(t, failedAt, store.jobs[j.ID].job.UpdatedAt, "late result did not touch the job")
}

func TestRetryableFailureSchedulesRetryThenSucceeds(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	e := newTestEngine(store, pub, &fakeChecker{})
	artifactID := seedArtifact(store, false)

	now := time.Now()
	e.now = func() time.Time { return now }

	require.NoError(t, e.handleArtifactCreated(context.Background(), &artifact.CreatedPayload{ArtifactID: artifactID}))
	j := store.onlyJob(t)

	// Attempt 1 fails with a retryable reason.
	require.NoError(t, e.handleResult(context.Background(), &artifact.ResultPayload{
		JobID: j.ID, Attempt: 1, Outcome: artifact.OutcomeFailure,
		ErrorCode: artifact.ReasonStorageError, Detail: "kv flake",
	}))
	retrying := store.jobs[j.ID].job
	assert.Equal(t, artifact.JobStatusRetrying, retrying.Status)
	require.NotNil(t, retrying.NextRetryAt)
	assert.True(t, retrying.NextRetryAt.After(now), "retry scheduled in the future")

	// Sweep before the retry is due: nothing happens.
	e.sweep(context.Background())
	assert.Equal(t, artifact.JobStatusRetrying, store.jobs[j.ID].job.Status)

	// Sweep after it's due: requeued as attempt 2 and dispatched.
	e.now = func() time.Time { return retrying.NextRetryAt.Add(time.Second) }
	e.sweep(context.Background())

	requeued := store.jobs[j.ID].job
	assert.Equal(t, artifact.JobStatusRunning, requeued.Status)
	assert.Equal(t, 2, requeued.Attempt)

	tasks := pub.taskPayloads(t, artifact.SubjectTaskNormalize)
	require.Len(t, tasks, 2)
	assert.Equal(t, 2, tasks[1].Attempt)

	// Attempt 2 succeeds.
	require.NoError(t, e.handleResult(context.Background(), &artifact.ResultPayload{
		JobID: j.ID, Attempt: 2, Outcome: artifact.OutcomeSuccess, NormalizedRef: "blob:ok",
	}))
	assert.Equal(t, artifact.JobStatusSucceeded, store.jobs[j.ID].job.Status)
	assert.Equal(t, "blob:ok", store.artifacts[artifactID].NormalizedRef)
}

func TestTransientFailuresSucceedOnThirdAttempt(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	e := newTestEngine(store, pub, &fakeChecker{})
	artifactID := seedArtifact(store, false)

	require.NoError(t, e.handleArtifactCreated(context.Background(), &artifact.CreatedPayload{ArtifactID: artifactID}))
	j := store.onlyJob(t)

	// Two transient failures, each requeued by the sweeper after backoff.
	for attempt := 1; attempt <= 2; attempt++ {
		require.NoError(t, e.handleResult(context.Background(), &artifact.ResultPayload{
			JobID: j.ID, Attempt: attempt, Outcome: artifact.OutcomeFailure,
			ErrorCode: artifact.ReasonTransientProvider, Detail: "connection reset",
		}))
		due := store.jobs[j.ID].job.NextRetryAt
		require.NotNil(t, due)
		e.now = func() time.Time { return due.Add(time.Second) }
		e.sweep(context.Background())
		assert.Equal(t, attempt+1, store.jobs[j.ID].job.Attempt)
	}

	// The third attempt lands.
	require.NoError(t, e.handleResult(context.Background(), &artifact.ResultPayload{
		JobID: j.ID, Attempt: 3, Outcome: artifact.OutcomeSuccess, NormalizedRef: "blob:third",
	}))

	final := store.jobs[j.ID].job
	assert.Equal(t, artifact.JobStatusSucceeded, final.Status)
	assert.Equal(t, 3, final.Attempt)
	assert.Equal(t, "blob:third", store.artifacts[artifactID].NormalizedRef)

	tasks := pub.taskPayloads(t, artifact.SubjectTaskNormalize)
	require.Len(t, tasks, 3)
	assert.Equal(t, 3, tasks[2].Attempt)
}

func TestFailureExhaustsAttemptCeiling(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	e := newTestEngine(store, pub, &fakeChecker{})
	artifactID := seedArtifact(store, false)

	require.NoError(t, e.handleArtifactCreated(context.Background(), &artifact.CreatedPayload{ArtifactID: artifactID}))
	j := store.onlyJob(t)

	for attempt := 1; attempt <= 3; attempt++ {
		require.NoError(t, e.handleResult(context.Background(), &artifact.ResultPayload{
			JobID: j.ID, Attempt: attempt, Outcome: artifact.OutcomeFailure,
			ErrorCode: artifact.ReasonConversionTimeout, Detail: fmt.Sprintf("attempt %d", attempt),
		}))
		if attempt < 3 {
			due := store.jobs[j.ID].job.NextRetryAt
			require.NotNil(t, due)
			e.now = func() time.Time { return due.Add(time.Second) }
			e.sweep(context.Background())
		}
	}

	final := store.jobs[j.ID].job
	assert.Equal(t, artifact.JobStatusFailed, final.Status)
	assert.Equal(t, 3, final.Attempt)
	assert.Equal(t, artifact.ReasonConversionTimeout, final.ErrorCode)
	assert.Contains(t, final.ErrorDetail, artifact.ReasonAttemptCeilingReached)
}

func TestNonRetryableReasonFailsImmediately(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	e := newTestEngine(store, pub, &fakeChecker{})
	artifactID := seedArtifact(store, false)

	require.NoError(t, e.handleArtifactCreated(context.Background(), &artifact.CreatedPayload{ArtifactID: artifactID}))
	j := store.onlyJob(t)

	require.NoError(t, e.handleResult(context.Background(), &artifact.ResultPayload{
		JobID: j.ID, Attempt: 1, Outcome: artifact.OutcomeFailure,
		ErrorCode: artifact.ReasonUnsupportedFormat, Detail: "image/png",
	}))

	final := store.jobs[j.ID].job
	assert.Equal(t, artifact.JobStatusFailed, final.Status)
	assert.Equal(t, 1, final.Attempt, "no retry burned on a structural failure")
}

func TestEvaluateRequestedNotReadyPublishesReasons(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	e := newTestEngine(store, pub, &fakeChecker{
		decision: &gate.Decision{Ready: false, Reasons: []string{gate.ReasonNotNormalized, gate.ReasonNoActiveRubric}},
	})
	artifactID := seedArtifact(store, false)

	err := e.handleEvaluateRequested(context.Background(), &artifact.EvaluateRequestPayload{ArtifactID: artifactID})
	require.NoError(t, err)

	j := store.onlyJob(t)
	assert.Equal(t, artifact.JobStatusFailed, j.Status)
	assert.Equal(t, artifact.ReasonNotReady, j.ErrorCode)
	assert.Contains(t, j.ErrorDetail, gate.ReasonNotNormalized)

	require.Len(t, pub.messages, 1)
	assert.Equal(t, artifact.SubjectJobResult, pub.messages[0].subject)
	var envelope struct {
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(pub.messages[0].data, &envelope))
}

func TestEvaluateRequestedCoalescesWithInflight(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	e := newTestEngine(store, pub, &fakeChecker{
		decision: &gate.Decision{Ready: false, Reasons: []string{gate.ReasonEvaluationInflight}},
	})
	artifactID := seedArtifact(store, true)

	err := e.handleEvaluateRequested(context.Background(), &artifact.EvaluateRequestPayload{ArtifactID: artifactID})
	require.NoError(t, err)

	assert.Empty(t, store.jobs, "coalesced request creates no job")
	assert.Empty(t, pub.messages)
}

func TestEvaluateClaimRaceLoserKeepsWinnerClaim(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	// A ready decision on every check simulates requests that all pass the
	// gate before any of them claims the slot.
	e := newTestEngine(store, pub, &fakeChecker{
		decision: &gate.Decision{Ready: true, RubricVersion: "v1", ProviderName: "local"},
	})
	artifactID := seedArtifact(store, true)

	require.NoError(t, e.handleEvaluateRequested(context.Background(), &artifact.EvaluateRequestPayload{ArtifactID: artifactID}))
	winnerTasks := pub.taskPayloads(t, artifact.SubjectTaskEvaluate)
	require.Len(t, winnerTasks, 1)
	winnerID := winnerTasks[0].JobID

	// The second request loses the claim race and fails not-ready. Its
	// failure path must not free the slot it never owned.
	require.NoError(t, e.handleEvaluateRequested(context.Background(), &artifact.EvaluateRequestPayload{ArtifactID: artifactID}))
	require.Equal(t, winnerID, store.inflight[artifactID+".v1"], "loser freed the winner's claim")

	loser := store.jobs[findOtherJob(t, store, winnerID)].job
	assert.Equal(t, artifact.JobStatusFailed, loser.Status)
	assert.Equal(t, artifact.ReasonNotReady, loser.ErrorCode)
	assert.Contains(t, loser.ErrorDetail, gate.ReasonEvaluationInflight)

	// A third request coalesces too instead of starting a second
	// evaluation beside the winner.
	require.NoError(t, e.handleEvaluateRequested(context.Background(), &artifact.EvaluateRequestPayload{ArtifactID: artifactID}))

	running := 0
	for _, s := range store.jobs {
		if s.job.Type == artifact.JobTypeEvaluate && s.job.Status == artifact.JobStatusRunning {
			running++
		}
	}
	assert.Equal(t, 1, running, "only the claim holder runs")
	assert.Len(t, pub.taskPayloads(t, artifact.SubjectTaskEvaluate), 1)
}

func findOtherJob(t *testing.T, store *fakeStore, excludeID string) string {
	t.Helper()
	for id := range store.jobs {
		if id != excludeID {
			return id
		}
	}
	t.Fatal("no other job found")
	return ""
}

func TestEvaluateRequestedPinnedVersionRunsBesideActive(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	store.rubrics["v1"] = &rubric.Rubric{Version: "v1", Categories: map[string]rubric.Category{"relevance": {Weight: 1}}}
	store.rubrics["v2"] = &rubric.Rubric{Version: "v2", Categories: map[string]rubric.Category{"relevance": {Weight: 1}}}
	store.activeRubric = "v2"
	store.provider = &llm.ProviderConfig{Name: "local", Provider: "ollama", Model: "qwen3", Enabled: true}
	e := newTestEngine(store, pub, gate.New(store, store, store, store))
	artifactID := seedArtifact(store, true)

	// An evaluation under the active rubric is in flight.
	require.NoError(t, e.handleEvaluateRequested(context.Background(), &artifact.EvaluateRequestPayload{ArtifactID: artifactID}))
	tasks := pub.taskPayloads(t, artifact.SubjectTaskEvaluate)
	require.Len(t, tasks, 1)
	assert.Equal(t, "v2", tasks[0].RubricVersion)

	// A request pinned to the in-flight version coalesces with it.
	require.NoError(t, e.handleEvaluateRequested(context.Background(), &artifact.EvaluateRequestPayload{ArtifactID: artifactID, RubricVersion: "v2"}))
	assert.Len(t, pub.taskPayloads(t, artifact.SubjectTaskEvaluate), 1)

	// A request pinned to a different version runs beside it; the claims
	// are scoped per (artifact, rubric version) pair.
	require.NoError(t, e.handleEvaluateRequested(context.Background(), &artifact.EvaluateRequestPayload{ArtifactID: artifactID, RubricVersion: "v1"}))
	tasks = pub.taskPayloads(t, artifact.SubjectTaskEvaluate)
	require.Len(t, tasks, 2)
	assert.Equal(t, "v1", tasks[1].RubricVersion)
	assert.NotEmpty(t, store.inflight[artifactID+".v1"])
	assert.NotEmpty(t, store.inflight[artifactID+".v2"])
}

func TestCancelQueuedJobOnly(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	e := newTestEngine(store, pub, &fakeChecker{})

	queued := &artifact.Job{Type: artifact.JobTypeNormalize, ArtifactID: "artifact:x", Attempt: 1, MaxAttempts: 3}
	id, err := store.CreateJob(context.Background(), queued)
	require.NoError(t, err)

	require.NoError(t, e.handleCancel(context.Background(), &artifact.CancelPayload{JobID: id.String()}))
	assert.Equal(t, artifact.JobStatusFailed, store.jobs[id.String()].job.Status)
	assert.Equal(t, artifact.ReasonCancelled, store.jobs[id.String()].job.ErrorCode)

	// A running job ignores cancel and finishes naturally.
	artifactID := seedArtifact(store, false)
	require.NoError(t, e.handleArtifactCreated(context.Background(), &artifact.CreatedPayload{ArtifactID: artifactID}))
	var runningID string
	for jid, s := range store.jobs {
		if s.job.Status == artifact.JobStatusRunning {
			runningID = jid
		}
	}
	require.NotEmpty(t, runningID)

	require.NoError(t, e.handleCancel(context.Background(), &artifact.CancelPayload{JobID: runningID}))
	assert.Equal(t, artifact.JobStatusRunning, store.jobs[runningID].job.Status)
}

func TestSweepReapsHardTimeout(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	e := newTestEngine(store, pub, &fakeChecker{})
	artifactID := seedArtifact(store, false)

	require.NoError(t, e.handleArtifactCreated(context.Background(), &artifact.CreatedPayload{ArtifactID: artifactID}))
	j := store.onlyJob(t)

	e.now = func() time.Time { return time.Now().Add(11 * time.Minute) }
	e.sweep(context.Background())

	swept := store.jobs[j.ID].job
	assert.Equal(t, artifact.JobStatusRetrying, swept.Status, "hard timeout is retryable while attempts remain")
	assert.Equal(t, artifact.ReasonHardTimeout, swept.ErrorCode)
}
