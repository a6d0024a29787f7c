// Package orchestrator drives the triage job lifecycle: it turns artifact
// events into stage jobs, applies worker results with idempotent
// transitions, schedules retries, and reaps jobs that outlive their hard
// time limit.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/sieve/artifact"
	"github.com/c360studio/sieve/gate"
	"github.com/c360studio/sieve/storage"
)

// Component implements the orchestrator processor.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger

	engine   *engine
	consumer jetstream.Consumer

	// Lifecycle
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc

	// Metrics
	eventsProcessed atomic.Int64
	eventsFailed    atomic.Int64
	lastActivityMu  sync.RWMutex
	lastActivity    time.Time
}

// NewComponent creates a new orchestrator processor.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	defaults := DefaultConfig()
	if config.EventStream == "" {
		config.EventStream = defaults.EventStream
	}
	if config.TaskStream == "" {
		config.TaskStream = defaults.TaskStream
	}
	if config.ConsumerName == "" {
		config.ConsumerName = defaults.ConsumerName
	}
	if config.MaxAttempts == 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.RetryBackoffBase == "" {
		config.RetryBackoffBase = defaults.RetryBackoffBase
	}
	if config.RetryBackoffMultiplier == 0 {
		config.RetryBackoffMultiplier = defaults.RetryBackoffMultiplier
	}
	if config.RetryBackoffMax == "" {
		config.RetryBackoffMax = defaults.RetryBackoffMax
	}
	if config.NormalizeSoftLimit == "" {
		config.NormalizeSoftLimit = defaults.NormalizeSoftLimit
	}
	if config.EvaluateSoftLimit == "" {
		config.EvaluateSoftLimit = defaults.EvaluateSoftLimit
	}
	if config.HardTimeout == "" {
		config.HardTimeout = defaults.HardTimeout
	}
	if config.SweepInterval == "" {
		config.SweepInterval = defaults.SweepInterval
	}
	if config.Ports == nil {
		config.Ports = defaults.Ports
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Component{
		name:       "orchestrator",
		config:     config,
		natsClient: deps.NATSClient,
		logger:     deps.GetLogger(),
	}, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized orchestrator",
		"event_stream", c.config.EventStream,
		"task_stream", c.config.TaskStream,
		"consumer", c.config.ConsumerName,
		"max_attempts", c.config.MaxAttempts)
	return nil
}

// Start begins consuming lifecycle events and starts the sweeper.
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

	c.engine = &engine{
		store: store,
		pub:   c.natsClient,
		gate:  gate.New(store, store, store, store),
		policy: RetryPolicy{
			BackoffBase: c.config.GetRetryBackoffBase(),
			Multiplier:  c.config.RetryBackoffMultiplier,
			MaxBackoff:  c.config.GetRetryBackoffMax(),
		},
		metrics:            defaultRegistered(),
		logger:             c.logger,
		maxAttempts:        c.config.MaxAttempts,
		normalizeSoftLimit: c.config.GetNormalizeSoftLimit(),
		evaluateSoftLimit:  c.config.GetEvaluateSoftLimit(),
		hardTimeout:        c.config.GetHardTimeout(),
		now:                time.Now,
	}

	stream, err := js.Stream(subCtx, c.config.EventStream)
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("get stream %s: %w", c.config.EventStream, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(subCtx, jetstream.ConsumerConfig{
		Durable:       c.config.ConsumerName,
		FilterSubject: "sieve.event.>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       time.Minute,
		MaxDeliver:    5,
	})
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("create consumer: %w", err)
	}
	c.consumer = consumer

	go c.consumeLoop(subCtx)
	go c.sweepLoop(subCtx)

	c.logger.Info("orchestrator started",
		"event_stream", c.config.EventStream,
		"consumer", c.config.ConsumerName,
		"sweep_interval", c.config.SweepInterval)

	return nil
}

func (c *Component) rollbackStart(cancel context.CancelFunc) {
	c.mu.Lock()
	c.running = false
	c.cancel = nil
	c.mu.Unlock()
	cancel()
}

// consumeLoop continuously consumes lifecycle events.
func (c *Component) consumeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := c.consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Debug("Fetch timeout or error", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			c.handleEvent(ctx, msg)
		}

		if msgs.Error() != nil && msgs.Error() != context.DeadlineExceeded {
			c.logger.Warn("Message fetch error", "error", msgs.Error())
		}
	}
}

// handleEvent dispatches one event by subject. Parse failures are ACKed
// (redelivery cannot fix them); handler errors are NAKed for redelivery.
func (c *Component) handleEvent(ctx context.Context, msg jetstream.Msg) {
	c.eventsProcessed.Add(1)
	c.updateLastActivity()

	var handlerErr error
	var parseErr error

	switch msg.Subject() {
	case artifact.SubjectArtifactCreated:
		var p *artifact.CreatedPayload
		if p, parseErr = artifact.ParseNATSMessage[artifact.CreatedPayload](msg.Data()); parseErr == nil {
			handlerErr = c.engine.handleArtifactCreated(ctx, p)
		}

	case artifact.SubjectEvaluateRequested:
		var p *artifact.EvaluateRequestPayload
		if p, parseErr = artifact.ParseNATSMessage[artifact.EvaluateRequestPayload](msg.Data()); parseErr == nil {
			handlerErr = c.engine.handleEvaluateRequested(ctx, p)
		}

	case artifact.SubjectJobResult:
		var p *artifact.ResultPayload
		if p, parseErr = artifact.ParseNATSMessage[artifact.ResultPayload](msg.Data()); parseErr == nil {
			handlerErr = c.engine.handleResult(ctx, p)
		}

	case artifact.SubjectJobCancel:
		var p *artifact.CancelPayload
		if p, parseErr = artifact.ParseNATSMessage[artifact.CancelPayload](msg.Data()); parseErr == nil {
			handlerErr = c.engine.handleCancel(ctx, p)
		}

	default:
		c.logger.Debug("Ignoring event on unhandled subject", "subject", msg.Subject())
	}

	if parseErr != nil {
		c.eventsFailed.Add(1)
		c.logger.Error("Failed to parse event", "subject", msg.Subject(), "error", parseErr)
		if err := msg.Ack(); err != nil {
			c.logger.Warn("Failed to ACK message", "error", err)
		}
		return
	}

	if handlerErr != nil {
		c.eventsFailed.Add(1)
		c.logger.Error("Event handling failed", "subject", msg.Subject(), "error", handlerErr)
		if err := msg.Nak(); err != nil {
			c.logger.Warn("Failed to NAK message", "error", err)
		}
		return
	}

	if err := msg.Ack(); err != nil {
		c.logger.Warn("Failed to ACK message", "error", err)
	}
}

// sweepLoop periodically requeues due retries and reaps timed-out jobs.
func (c *Component) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(c.config.GetSweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.engine.sweep(ctx)
		}
	}
}

// Stop halts event consumption and the sweeper.
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
	c.logger.Info("orchestrator stopped",
		"events_processed", c.eventsProcessed.Load(),
		"events_failed", c.eventsFailed.Load())

	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "orchestrator",
		Type:        "processor",
		Description: "Drives triage job lifecycle with retries and hard-timeout sweeping",
		Version:     "0.1.0",
	}
}

// InputPorts returns configured input port definitions.
func (c *Component) InputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Inputs))
	for i, portDef := range c.config.Ports.Inputs {
		ports[i] = component.Port{
			Name:        portDef.Name,
			Direction:   component.DirectionInput,
			Required:    portDef.Required,
			Description: portDef.Description,
			Config: component.NATSPort{
				Subject: portDef.Subject,
			},
		}
	}
	return ports
}

// OutputPorts returns configured output port definitions.
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
	return orchestratorSchema
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
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(c.eventsFailed.Load()),
		Uptime:     time.Since(startTime),
		Status:     status,
	}
}

// DataFlow returns current data flow metrics.
func (c *Component) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{
		MessagesPerSecond: 0,
		BytesPerSecond:    0,
		ErrorRate:         0,
		LastActivity:      c.getLastActivity(),
	}
}

// IsRunning returns whether the component is running.
func (c *Component) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

func (c *Component) updateLastActivity() {
	c.lastActivityMu.Lock()
	c.lastActivity = time.Now()
	c.lastActivityMu.Unlock()
}

func (c *Component) getLastActivity() time.Time {
	c.lastActivityMu.RLock()
	defer c.lastActivityMu.RUnlock()
	return c.lastActivity
}
