package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/sieve/llm"
	_ "github.com/c360studio/sieve/llm/providers"
	"github.com/c360studio/sieve/prompt"
	"github.com/c360studio/sieve/rubric"
	"github.com/c360studio/sieve/storage"
)

type fakeRegistry struct {
	rubrics   map[string]*rubric.Rubric
	templates map[string]*prompt.Template
	providers map[string]*llm.ProviderConfig
	pointers  map[string]string
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		rubrics:   map[string]*rubric.Rubric{},
		templates: map[string]*prompt.Template{},
		providers: map[string]*llm.ProviderConfig{},
		pointers:  map[string]string{},
	}
}

func (f *fakeRegistry) CreateRubric(_ context.Context, r *rubric.Rubric) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if _, ok := f.rubrics[r.Version]; ok {
		return storage.ErrAlreadyExists
	}
	f.rubrics[r.Version] = r
	return nil
}

func (f *fakeRegistry) CreateTemplate(_ context.Context, t *prompt.Template) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if _, ok := f.templates[t.ID]; ok {
		return storage.ErrAlreadyExists
	}
	f.templates[t.ID] = t
	return nil
}

func (f *fakeRegistry) PutProvider(_ context.Context, cfg *llm.ProviderConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	f.providers[cfg.Name] = cfg
	return nil
}

func (f *fakeRegistry) SetPointer(_ context.Context, key, target string) error {
	f.pointers[key] = target
	return nil
}

func (f *fakeRegistry) GetPointer(_ context.Context, key string) (string, error) {
	v, ok := f.pointers[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return v, nil
}

func writeCatalogFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(dir, name)), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

const rubricYAML = `kind: rubric
rubric:
  version: v1
  name: Research triage
  categories:
    relevance:
      weight: 0.6
      guidance: Direct relation to active research topics.
    depth:
      weight: 0.4
      guidance: Original analysis over aggregation.
  thresholds:
    signal: 3.5
    noise: 2.0
    min_confidence: 0.5
  template_id: eval-default
`

const templateYAML = `kind: template
template:
  id: eval-default
  name: Default evaluation
  type: evaluation
  system_prompt: "You triage research artifacts."
  user_prompt: "Score {title} against the rubric:\n{content}"
`

const providerYAML = `kind: provider
provider:
  name: local
  provider: ollama
  model: qwen3
  enabled: true
`

func TestSyncRegistersCatalogEntries(t *testing.T) {
	dir := t.TempDir()
	writeCatalogFile(t, dir, "rubrics/v1.yaml", rubricYAML)
	writeCatalogFile(t, dir, "templates/eval.yaml", templateYAML)
	writeCatalogFile(t, dir, "providers/local.yaml", providerYAML)

	reg := newFakeRegistry()
	loader := NewLoader(Config{Dir: dir}, reg, nil)
	require.NoError(t, loader.Sync(context.Background()))

	require.Contains(t, reg.rubrics, "v1")
	assert.Equal(t, "eval-default", reg.rubrics["v1"].TemplateID)
	require.Contains(t, reg.templates, "eval-default")
	assert.ElementsMatch(t, []string{"title", "content"}, reg.templates["eval-default"].Variables)
	require.Contains(t, reg.providers, "local")
}

func TestSyncSkipsBrokenFiles(t *testing.T) {
	dir := t.TempDir()
	writeCatalogFile(t, dir, "broken.yaml", "kind: rubric\nrubric: [not, a, rubric]\n")
	writeCatalogFile(t, dir, "good.yaml", rubricYAML)

	reg := newFakeRegistry()
	loader := NewLoader(Config{Dir: dir}, reg, nil)
	require.NoError(t, loader.Sync(context.Background()))

	assert.Contains(t, reg.rubrics, "v1", "good file still loads when a sibling is broken")
}

func TestSyncLeavesExistingVersionsUntouched(t *testing.T) {
	dir := t.TempDir()
	writeCatalogFile(t, dir, "rubrics/v1.yaml", rubricYAML)

	reg := newFakeRegistry()
	original := &rubric.Rubric{
		Version:    "v1",
		Categories: map[string]rubric.Category{"novelty": {Weight: 1.0}},
	}
	reg.rubrics["v1"] = original

	loader := NewLoader(Config{Dir: dir}, reg, nil)
	require.NoError(t, loader.Sync(context.Background()))

	assert.Same(t, original, reg.rubrics["v1"], "registered versions are immutable")
}

func TestSyncLeavesExistingTemplatesUntouched(t *testing.T) {
	dir := t.TempDir()
	writeCatalogFile(t, dir, "templates/eval.yaml", templateYAML)

	reg := newFakeRegistry()
	original := &prompt.Template{
		ID:         "eval-default",
		Type:       prompt.TypeEvaluation,
		UserPrompt: "Original wording: {content}",
	}
	reg.templates["eval-default"] = original

	loader := NewLoader(Config{Dir: dir}, reg, nil)
	require.NoError(t, loader.Sync(context.Background()))

	assert.Same(t, original, reg.templates["eval-default"], "registered templates are immutable")
}

func TestSyncActivatesDefaultsOnlyWhenUnset(t *testing.T) {
	dir := t.TempDir()
	writeCatalogFile(t, dir, "rubrics/v1.yaml", rubricYAML)
	writeCatalogFile(t, dir, "providers/local.yaml", providerYAML)

	reg := newFakeRegistry()
	reg.pointers[storage.PointerActiveProvider] = "remote"

	loader := NewLoader(Config{
		Dir:             dir,
		DefaultRubric:   "v1",
		DefaultProvider: "local",
	}, reg, nil)
	require.NoError(t, loader.Sync(context.Background()))

	assert.Equal(t, "v1", reg.pointers[storage.PointerActiveRubric])
	assert.Equal(t, "remote", reg.pointers[storage.PointerActiveProvider],
		"operator selection survives resync")
}
