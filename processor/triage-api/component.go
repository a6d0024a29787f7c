// Package triageapi provides the HTTP surface of the triage pipeline:
// artifact status, explicit evaluation requests, job cancellation, rubric
// inspection, and Prometheus metrics.
package triageapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/natsclient"

	"github.com/c360studio/sieve/artifact"
	"github.com/c360studio/sieve/gate"
	"github.com/c360studio/sieve/rubric"
	"github.com/c360studio/sieve/storage"
)

// Store is the storage surface the API reads from.
type Store interface {
	GetArtifact(ctx context.Context, id storage.EntityID) (*artifact.Artifact, error)
	ListArtifacts(ctx context.Context) ([]*artifact.Artifact, error)
	GetJob(ctx context.Context, id storage.EntityID) (*artifact.Job, uint64, error)
	ListJobsByArtifact(ctx context.Context, artifactID string) ([]*artifact.Job, error)
	GetEvaluation(ctx context.Context, artifactID, rubricVersion string) (*artifact.Evaluation, error)
	ListEvaluations(ctx context.Context, artifactID string) ([]*artifact.Evaluation, error)
	GetRubric(ctx context.Context, version string) (*rubric.Rubric, error)
	ListRubrics(ctx context.Context) ([]*rubric.Rubric, error)
	GetPointer(ctx context.Context, key string) (string, error)
	GetInflightClaim(ctx context.Context, artifactID, rubricVersion string) (*storage.InflightClaim, error)
}

// Publisher publishes pipeline events.
type Publisher interface {
	PublishToStream(ctx context.Context, subject string, data []byte) error
}

// Checker decides whether an artifact is ready to evaluate.
type Checker interface {
	Check(ctx context.Context, artifactID, rubricVersion string) (*gate.Decision, error)
}

// Component implements the triage-api component. The HTTP handlers are
// attached to a shared mux by the host process via RegisterHTTPHandlers.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger

	store   Store
	pub     Publisher
	checker Checker

	// Lifecycle
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc
}

// NewComponent creates a new triage-api component.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	defaults := DefaultConfig()
	if config.Prefix == "" {
		config.Prefix = defaults.Prefix
	}
	if config.Ports == nil {
		config.Ports = defaults.Ports
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Component{
		name:       "triage-api",
		config:     config,
		natsClient: deps.NATSClient,
		logger:     deps.GetLogger(),
	}, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized triage-api")
	return nil
}

// Start opens the store the handlers read from. The HTTP server itself is
// owned by the host process.
func (c *Component) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("component already running")
	}
	if c.natsClient == nil {
		c.mu.Unlock()
		return fmt.Errorf("NATS client required")
	}

	c.running = true
	c.startTime = time.Now()

	subCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	js, err := c.natsClient.JetStream()
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("get jetstream: %w", err)
	}

	store, err := storage.NewStore(subCtx, js)
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("open store: %w", err)
	}

	c.store = store
	c.pub = c.natsClient
	c.checker = gate.New(store, store, store, store)

	c.logger.Info("triage-api started")
	return nil
}

func (c *Component) rollbackStart(cancel context.CancelFunc) {
	c.mu.Lock()
	c.running = false
	c.cancel = nil
	c.mu.Unlock()
	cancel()
}

// Stop halts the component.
func (c *Component) Stop(_ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.running = false
	c.logger.Info("triage-api stopped")
	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "triage-api",
		Type:        "processor",
		Description: "HTTP endpoints for artifact status, evaluation requests, and rubrics",
		Version:     "0.1.0",
	}
}

// InputPorts returns an empty port list; this component has no NATS inputs.
func (c *Component) InputPorts() []component.Port {
	return []component.Port{}
}

// OutputPorts returns the event output port.
func (c *Component) OutputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Outputs))
	for i, portDef := range c.config.Ports.Outputs {
		ports[i] = component.Port{
			Name:        portDef.Name,
			Direction:   component.DirectionOutput,
			Required:    portDef.Required,
			Description: portDef.Description,
			Config: component.NATSPort{
				Subject: portDef.Subject,
			},
		}
	}
	return ports
}

// ConfigSchema returns the configuration schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return triageAPISchema
}

// Health returns the current health status.
func (c *Component) Health() component.HealthStatus {
	c.mu.RLock()
	running := c.running
	startTime := c.startTime
	c.mu.RUnlock()

	status := "stopped"
	if running {
		status = "running"
	}

	return component.HealthStatus{
		Healthy:   running,
		LastCheck: time.Now(),
		Uptime:    time.Since(startTime),
		Status:    status,
	}
}

// DataFlow returns current data flow metrics.
func (c *Component) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{}
}

// IsRunning returns whether the component is running.
func (c *Component) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}
