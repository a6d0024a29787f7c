// Package catalog seeds rubrics, prompt templates and provider configs
// from YAML files on disk into the KV catalog, and watches the directory
// so new versions land without a restart.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/c360studio/sieve/llm"
	"github.com/c360studio/sieve/prompt"
	"github.com/c360studio/sieve/rubric"
	"github.com/c360studio/sieve/storage"
)

// Registry is the slice of the store the loader writes to.
type Registry interface {
	CreateRubric(ctx context.Context, r *rubric.Rubric) error
	CreateTemplate(ctx context.Context, t *prompt.Template) error
	PutProvider(ctx context.Context, cfg *llm.ProviderConfig) error
	SetPointer(ctx context.Context, key, target string) error
	GetPointer(ctx context.Context, key string) (string, error)
}

// Config controls catalog loading.
type Config struct {
	// Dir is the catalog root directory.
	Dir string `json:"dir" yaml:"dir"`

	// Patterns are doublestar globs relative to Dir selecting catalog
	// files.
	Patterns []string `json:"patterns" yaml:"patterns"`

	// DefaultRubric optionally names the rubric version to activate when
	// no rubric is active yet.
	DefaultRubric string `json:"default_rubric" yaml:"default_rubric"`

	// DefaultProvider optionally names the provider to activate when no
	// provider is active yet.
	DefaultProvider string `json:"default_provider" yaml:"default_provider"`

	// Watch enables fsnotify-based reloading.
	Watch bool `json:"watch" yaml:"watch"`
}

// DefaultConfig returns catalog defaults.
func DefaultConfig() Config {
	return Config{
		Dir:      "./catalog",
		Patterns: []string{"**/*.yaml", "**/*.yml"},
	}
}

// entry is one catalog file. Kind selects which payload field is read.
type entry struct {
	Kind     string              `yaml:"kind"`
	Rubric   *rubric.Rubric      `yaml:"rubric,omitempty"`
	Template *prompt.Template    `yaml:"template,omitempty"`
	Provider *llm.ProviderConfig `yaml:"provider,omitempty"`
}

// Loader syncs catalog files into the registry.
type Loader struct {
	config   Config
	registry Registry
	logger   *slog.Logger
}

// NewLoader creates a catalog loader.
func NewLoader(config Config, registry Registry, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	if len(config.Patterns) == 0 {
		config.Patterns = DefaultConfig().Patterns
	}
	return &Loader{config: config, registry: registry, logger: logger}
}

// Sync loads every matching catalog file and registers its contents.
// Already-registered rubric versions are left untouched; editing a
// published rubric file requires bumping its version. A broken file is
// logged and skipped so one bad edit cannot block the rest of the catalog.
func (l *Loader) Sync(ctx context.Context) error {
	files, err := l.matchFiles()
	if err != nil {
		return err
	}

	for _, path := range files {
		if err := l.loadFile(ctx, path); err != nil {
			l.logger.Warn("Skipping catalog file", "path", path, "error", err)
		}
	}

	if err := l.activateDefaults(ctx); err != nil {
		return err
	}

	return nil
}

func (l *Loader) matchFiles() ([]string, error) {
	root := os.DirFS(l.config.Dir)
	seen := make(map[string]bool)
	var files []string

	for _, pattern := range l.config.Patterns {
		matches, err := doublestar.Glob(root, pattern)
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", pattern, err)
		}
		for _, m := range matches {
			full := filepath.Join(l.config.Dir, m)
			if !seen[full] {
				seen[full] = true
				files = append(files, full)
			}
		}
	}

	sort.Strings(files)
	return files, nil
}

func (l *Loader) loadFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read catalog file: %w", err)
	}

	var e entry
	if err := yaml.Unmarshal(data, &e); err != nil {
		return fmt.Errorf("parse catalog file: %w", err)
	}

	switch e.Kind {
	case "rubric":
		if e.Rubric == nil {
			return fmt.Errorf("kind rubric without rubric body")
		}
		err := l.registry.CreateRubric(ctx, e.Rubric)
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil // versions are immutable, nothing to do
		}
		if err != nil {
			return fmt.Errorf("register rubric %s: %w", e.Rubric.Version, err)
		}
		l.logger.Info("Registered rubric", "version", e.Rubric.Version, "path", path)
		return nil

	case "template":
		if e.Template == nil {
			return fmt.Errorf("kind template without template body")
		}
		err := l.registry.CreateTemplate(ctx, e.Template)
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil // template IDs are immutable, nothing to do
		}
		if err != nil {
			return fmt.Errorf("register template %s: %w", e.Template.ID, err)
		}
		l.logger.Info("Registered template", "id", e.Template.ID, "path", path)
		return nil

	case "provider":
		if e.Provider == nil {
			return fmt.Errorf("kind provider without provider body")
		}
		if err := l.registry.PutProvider(ctx, e.Provider); err != nil {
			return fmt.Errorf("register provider %s: %w", e.Provider.Name, err)
		}
		l.logger.Info("Registered provider", "name", e.Provider.Name, "path", path)
		return nil

	default:
		return fmt.Errorf("unknown catalog kind: %q", e.Kind)
	}
}

// activateDefaults sets the active pointers to the configured defaults,
// but only when nothing is active yet; operator selections made through
// the API survive a resync.
func (l *Loader) activateDefaults(ctx context.Context) error {
	defaults := []struct {
		key    string
		target string
	}{
		{storage.PointerActiveRubric, l.config.DefaultRubric},
		{storage.PointerActiveProvider, l.config.DefaultProvider},
	}

	for _, d := range defaults {
		if d.target == "" {
			continue
		}
		_, err := l.registry.GetPointer(ctx, d.key)
		if err == nil {
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("read pointer %s: %w", d.key, err)
		}
		if err := l.registry.SetPointer(ctx, d.key, d.target); err != nil {
			return fmt.Errorf("activate default %s: %w", d.target, err)
		}
		l.logger.Info("Activated default", "pointer", d.key, "target", d.target)
	}

	return nil
}
