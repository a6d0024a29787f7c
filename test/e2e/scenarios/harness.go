package scenarios

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/c360studio/semstreams/message"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/sieve/artifact"
	"github.com/c360studio/sieve/llm"
	triageapi "github.com/c360studio/sieve/processor/triage-api"
	"github.com/c360studio/sieve/rubric"
	"github.com/c360studio/sieve/storage"
	"github.com/c360studio/sieve/test/e2e/config"
)

// Triage states, re-exported so scenarios read naturally.
const (
	StateReadyToEvaluate      = triageapi.StateReadyToEvaluate
	StateNotReady             = triageapi.StateNotReady
	StateEvaluationInProgress = triageapi.StateEvaluationInProgress
	StateEvaluationComplete   = triageapi.StateEvaluationComplete
	StateEvaluationFailed     = triageapi.StateEvaluationFailed
)

// harness holds the connections a scenario drives the pipeline through:
// the store for ingestion, NATS for events, HTTP for the operator API.
type harness struct {
	cfg   *config.Config
	nc    *nats.Conn
	js    jetstream.JetStream
	store *storage.Store
	http  *http.Client
}

func newHarness(ctx context.Context, cfg *config.Config) (*harness, error) {
	cfg.Defaults()

	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}
	store, err := storage.NewStore(ctx, js)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	return &harness{
		cfg:   cfg,
		nc:    nc,
		js:    js,
		store: store,
		http:  &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (h *harness) close() {
	if h.nc != nil {
		h.nc.Close()
	}
}

// seedCatalog registers the e2e rubric and mock provider and activates them.
// An already-registered rubric version is fine: catalog entries are
// immutable per version.
func (h *harness) seedCatalog(ctx context.Context) error {
	r := &rubric.Rubric{
		Version: config.E2ERubricVersion,
		Name:    "e2e",
		Categories: map[string]rubric.Category{
			"relevance":   {Weight: 0.6, Guidance: "how directly the content addresses the mission"},
			"credibility": {Weight: 0.4, Guidance: "source reliability and evidence quality"},
		},
		Thresholds: rubric.Thresholds{
			Signal:        3.5,
			Noise:         2.0,
			MinConfidence: 0.5,
		},
	}
	if err := h.store.CreateRubric(ctx, r); err != nil && !errors.Is(err, storage.ErrAlreadyExists) {
		return fmt.Errorf("seed rubric: %w", err)
	}

	provider := &llm.ProviderConfig{
		Name:     config.E2EProviderName,
		Provider: "ollama",
		URL:      h.cfg.MockLLMURL,
		Model:    "mock-triage",
		Enabled:  true,
	}
	if err := h.store.PutProvider(ctx, provider); err != nil {
		return fmt.Errorf("seed provider: %w", err)
	}

	if err := h.store.SetPointer(ctx, storage.PointerActiveRubric, config.E2ERubricVersion); err != nil {
		return fmt.Errorf("activate rubric: %w", err)
	}
	if err := h.store.SetPointer(ctx, storage.PointerActiveProvider, config.E2EProviderName); err != nil {
		return fmt.Errorf("activate provider: %w", err)
	}
	return nil
}

// ingestArtifact plays the ingestion collaborator: store the artifact and
// its raw blob, then announce it on the event stream.
func (h *harness) ingestArtifact(ctx context.Context, uri, mimeType string, raw []byte) (string, error) {
	a := &artifact.Artifact{
		SourceID: config.E2ESourceID,
		URI:      uri,
		MimeType: mimeType,
	}
	_, err := h.store.CreateArtifact(ctx, a)
	if err != nil {
		return "", fmt.Errorf("create artifact: %w", err)
	}

	rawRef, err := h.store.PutBlob(ctx, a.ID, storage.BlobRaw, raw)
	if err != nil {
		return "", fmt.Errorf("store raw blob: %w", err)
	}
	a.RawRef = rawRef
	if err := h.store.UpdateArtifact(ctx, a); err != nil {
		return "", fmt.Errorf("attach raw blob: %w", err)
	}

	if err := h.publishEvent(ctx, artifact.SubjectArtifactCreated, &artifact.CreatedPayload{
		ArtifactID: a.ID,
		SourceID:   config.E2ESourceID,
	}); err != nil {
		return "", err
	}
	return a.ID, nil
}

type eventPayload interface {
	message.Payload
}

func (h *harness) publishEvent(ctx context.Context, subject string, payload eventPayload) error {
	baseMsg := message.NewBaseMessage(payload.Schema(), payload, config.E2ESourceID)
	data, err := json.Marshal(baseMsg)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := h.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// apiStatus mirrors the triage API status response.
type apiStatus struct {
	ArtifactID    string               `json:"artifact_id"`
	State         string               `json:"state"`
	Reasons       []string             `json:"reasons,omitempty"`
	RubricVersion string               `json:"rubric_version,omitempty"`
	ProviderName  string               `json:"provider_name,omitempty"`
	Evaluation    *artifact.Evaluation `json:"evaluation,omitempty"`
	ErrorCode     string               `json:"error_code,omitempty"`
	ErrorDetail   string               `json:"error_detail,omitempty"`
	Attempts      int                  `json:"attempts,omitempty"`
}

// getStatus fetches the artifact's triage status from the API.
func (h *harness) getStatus(ctx context.Context, artifactID string) (*apiStatus, error) {
	url := strings.TrimRight(h.cfg.APIURL, "/") + "/artifacts/" + artifactID + "/status"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read status body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status endpoint returned %d: %s", resp.StatusCode, body)
	}

	var status apiStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("unmarshal status: %w", err)
	}
	return &status, nil
}

// waitForState polls the status endpoint until the artifact reaches one of
// the wanted states or the wait timeout expires.
func (h *harness) waitForState(ctx context.Context, artifactID string, wanted ...string) (*apiStatus, error) {
	deadline := time.Now().Add(h.cfg.WaitTimeout)
	var last *apiStatus

	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		status, err := h.getStatus(ctx, artifactID)
		if err == nil {
			last = status
			for _, want := range wanted {
				if status.State == want {
					return status, nil
				}
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(h.cfg.PollInterval):
		}
	}

	if last != nil {
		return nil, fmt.Errorf("artifact %s stuck in state %q (wanted %s)",
			artifactID, last.State, strings.Join(wanted, " or "))
	}
	return nil, fmt.Errorf("artifact %s: no status before timeout", artifactID)
}

// postJSON posts a JSON body to an API path and returns the response code
// and body.
func (h *harness) postJSON(ctx context.Context, path string, body any) (int, []byte, error) {
	url := strings.TrimRight(h.cfg.APIURL, "/") + path

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("post %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}
