// Package main provides the sieve binary entry point.
// Sieve is an artifact triage pipeline: it normalizes collected artifacts,
// scores them against a versioned rubric via an LLM provider, and labels
// them Signal, Review or Noise.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	// Register LLM providers via init()
	_ "github.com/c360studio/sieve/llm/providers"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/cobra"

	"github.com/c360studio/sieve/artifact"
	"github.com/c360studio/sieve/catalog"
	"github.com/c360studio/sieve/config"
	"github.com/c360studio/sieve/processor/evaluator"
	"github.com/c360studio/sieve/processor/normalizer"
	"github.com/c360studio/sieve/processor/orchestrator"
	triageapi "github.com/c360studio/sieve/processor/triage-api"
	"github.com/c360studio/sieve/storage"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "sieve"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "sieve",
		Short: "Artifact triage pipeline",
		Long: `Sieve triages collected artifacts into Signal, Review and Noise.

It runs four components over NATS JetStream:
- orchestrator: drives job lifecycle with retries and hard-timeout sweeping
- normalizer: converts raw artifact content to normalized markdown
- evaluator: scores normalized artifacts against the active rubric
- triage-api: operator HTTP surface for status, evaluation and cancellation`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, logLevel)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

// runnable is the lifecycle slice of a component the binary drives directly.
type runnable interface {
	Initialize() error
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}

func run(configPath, logLevel string) error {
	logger := newLogger(logLevel)
	slog.SetDefault(logger)

	cfg, err := loadConfig(configPath, logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger = newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	ctx := context.Background()
	natsClient, err := connectToNATS(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer natsClient.Close(ctx)

	js, err := natsClient.JetStream()
	if err != nil {
		return fmt.Errorf("get jetstream: %w", err)
	}

	if err := ensureStreams(ctx, cfg, js, logger); err != nil {
		return err
	}

	store, err := storage.NewStore(ctx, js)
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}

	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := syncCatalog(signalCtx, cfg, store, logger); err != nil {
		return err
	}

	deps := component.Dependencies{
		NATSClient: natsClient,
		Logger:     logger,
	}

	components, api, err := buildComponents(cfg, deps)
	if err != nil {
		return err
	}

	started := make([]namedComponent, 0, len(components))
	defer func() {
		// Stop in reverse start order.
		for i := len(started) - 1; i >= 0; i-- {
			if err := started[i].comp.Stop(10 * time.Second); err != nil {
				logger.Error("Error stopping component", "component", started[i].name, "error", err)
			}
		}
	}()

	for _, nc := range components {
		if err := nc.comp.Initialize(); err != nil {
			return fmt.Errorf("initialize %s: %w", nc.name, err)
		}
		if err := nc.comp.Start(signalCtx); err != nil {
			return fmt.Errorf("start %s: %w", nc.name, err)
		}
		started = append(started, nc)
		logger.Info("Component started", "component", nc.name)
	}

	httpServer := serveHTTP(cfg, api, logger)

	slog.Info("Sieve ready",
		"version", Version,
		"nats_url", cfg.NATS.URL,
		"http_addr", cfg.HTTP.Addr)

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down HTTP server", "error", err)
	}

	slog.Info("Sieve shutdown complete")
	return nil
}

func newLogger(level string) *slog.Logger {
	l := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func loadConfig(configPath string, logger *slog.Logger) (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromFile(configPath)
	}
	return config.NewLoader(logger).Load()
}

func connectToNATS(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*natsclient.Client, error) {
	natsURL := cfg.NATS.URL

	// Environment variable override takes precedence
	if envURL := os.Getenv("NATS_URL"); envURL != "" {
		natsURL = envURL
	} else if envURL := os.Getenv("SIEVE_NATS_URL"); envURL != "" {
		natsURL = envURL
	}

	logger.Info("Connecting to NATS", "url", natsURL)

	client, err := natsclient.NewClient(natsURL,
		natsclient.WithName(appName),
		natsclient.WithMaxReconnects(-1),
		natsclient.WithReconnectWait(time.Second),
		natsclient.WithCircuitBreakerThreshold(20), // Higher threshold for startup bursts
		natsclient.WithHealthInterval(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	if err := client.Connect(ctx); err != nil {
		return nil, wrapNATSError(err, natsURL)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := client.WaitForConnection(connCtx); err != nil {
		return nil, wrapNATSError(err, natsURL)
	}

	logger.Info("Connected to NATS", "url", natsURL)
	return client, nil
}

// wrapNATSError provides helpful guidance when NATS connection fails.
func wrapNATSError(err error, url string) error {
	errStr := err.Error()

	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no servers available") ||
		strings.Contains(errStr, "timeout") {
		return fmt.Errorf(`NATS connection failed: %w

NATS is not running at %s.

To start NATS:
  docker compose up -d nats

Or set NATS_URL environment variable to point to your NATS server.`, err, url)
	}

	return fmt.Errorf("NATS connection failed: %w", err)
}

func ensureStreams(ctx context.Context, cfg *config.Config, js jetstream.JetStream, logger *slog.Logger) error {
	logger.Debug("Creating JetStream streams")

	streams := []jetstream.StreamConfig{
		{
			Name:      cfg.NATS.TaskStream,
			Subjects:  artifact.TaskSubjects(),
			Storage:   jetstream.FileStorage,
			Retention: jetstream.WorkQueuePolicy,
		},
		{
			Name:     cfg.NATS.EventStream,
			Subjects: artifact.EventSubjects(),
			Storage:  jetstream.FileStorage,
			MaxAge:   7 * 24 * time.Hour,
		},
	}

	for _, sc := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, sc); err != nil {
			return fmt.Errorf("ensure stream %s: %w", sc.Name, err)
		}
	}

	logger.Debug("JetStream streams ready")
	return nil
}

// syncCatalog seeds rubrics, templates and providers from disk. A missing
// catalog directory is not fatal: the catalog can also be populated over KV
// by an external process.
func syncCatalog(ctx context.Context, cfg *config.Config, store *storage.Store, logger *slog.Logger) error {
	if cfg.Catalog.Dir == "" {
		logger.Info("Catalog disabled (no directory configured)")
		return nil
	}
	if _, err := os.Stat(cfg.Catalog.Dir); errors.Is(err, os.ErrNotExist) {
		logger.Warn("Catalog directory missing, skipping seed", "dir", cfg.Catalog.Dir)
		return nil
	}

	loader := catalog.NewLoader(catalog.Config{
		Dir:             cfg.Catalog.Dir,
		Patterns:        cfg.Catalog.Patterns,
		DefaultRubric:   cfg.Catalog.DefaultRubric,
		DefaultProvider: cfg.Catalog.DefaultProvider,
		Watch:           cfg.Catalog.Watch,
	}, store, logger)

	if err := loader.Sync(ctx); err != nil {
		return fmt.Errorf("sync catalog: %w", err)
	}
	if cfg.Catalog.Watch {
		go func() {
			if err := loader.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Catalog watch stopped", "error", err)
			}
		}()
	}
	return nil
}

type namedComponent struct {
	name string
	comp runnable
}

// buildComponents constructs the four sieve components in dependency order:
// workers before the orchestrator that feeds them, API last.
func buildComponents(cfg *config.Config, deps component.Dependencies) ([]namedComponent, *triageapi.Component, error) {
	normalizerJSON, _ := json.Marshal(map[string]any{
		"task_stream":    cfg.NATS.TaskStream,
		"max_concurrent": cfg.Workers.NormalizeConcurrency,
		"soft_limit":     cfg.Jobs.NormalizeSoftLimit.String(),
	})
	evaluatorJSON, _ := json.Marshal(map[string]any{
		"task_stream":     cfg.NATS.TaskStream,
		"max_concurrent":  cfg.Workers.EvaluateConcurrency,
		"soft_limit":      cfg.Jobs.EvaluateSoftLimit.String(),
		"request_timeout": cfg.Workers.RequestTimeout.String(),
	})
	orchestratorJSON, _ := json.Marshal(map[string]any{
		"event_stream":             cfg.NATS.EventStream,
		"task_stream":              cfg.NATS.TaskStream,
		"max_attempts":             cfg.Jobs.MaxAttempts,
		"retry_backoff_base":       cfg.Jobs.RetryBackoffBase.String(),
		"retry_backoff_multiplier": cfg.Jobs.RetryBackoffMultiplier,
		"retry_backoff_max":        cfg.Jobs.RetryBackoffMax.String(),
		"normalize_soft_limit":     cfg.Jobs.NormalizeSoftLimit.String(),
		"evaluate_soft_limit":      cfg.Jobs.EvaluateSoftLimit.String(),
		"hard_timeout":             cfg.Jobs.HardTimeout.String(),
		"sweep_interval":           cfg.Jobs.SweepInterval.String(),
	})
	apiJSON, _ := json.Marshal(map[string]any{
		"prefix": cfg.HTTP.Prefix,
	})

	norm, err := normalizer.NewComponent(normalizerJSON, deps)
	if err != nil {
		return nil, nil, fmt.Errorf("create normalizer: %w", err)
	}
	eval, err := evaluator.NewComponent(evaluatorJSON, deps)
	if err != nil {
		return nil, nil, fmt.Errorf("create evaluator: %w", err)
	}
	orch, err := orchestrator.NewComponent(orchestratorJSON, deps)
	if err != nil {
		return nil, nil, fmt.Errorf("create orchestrator: %w", err)
	}
	apiComp, err := triageapi.NewComponent(apiJSON, deps)
	if err != nil {
		return nil, nil, fmt.Errorf("create triage-api: %w", err)
	}
	api, ok := apiComp.(*triageapi.Component)
	if !ok {
		return nil, nil, fmt.Errorf("unexpected triage-api component type %T", apiComp)
	}

	components := []namedComponent{
		{"normalizer", norm.(runnable)},
		{"evaluator", eval.(runnable)},
		{"orchestrator", orch.(runnable)},
		{"triage-api", api},
	}
	return components, api, nil
}

func serveHTTP(cfg *config.Config, api *triageapi.Component, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	api.RegisterHTTPHandlers(cfg.HTTP.Prefix, mux)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("HTTP API listening", "addr", cfg.HTTP.Addr, "prefix", cfg.HTTP.Prefix)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
		}
	}()
	return srv
}
