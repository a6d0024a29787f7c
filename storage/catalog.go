package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/sieve/llm"
	"github.com/c360studio/sieve/prompt"
	"github.com/c360studio/sieve/rubric"
)

// Pointer keys in the pointers bucket. Each holds the single active
// selection; swapping one is a single-key write and therefore atomic.
const (
	PointerActiveRubric   = "active-rubric"
	PointerActiveProvider = "active-provider"
)

// Pointer records which catalog entry is active and when it was selected.
type Pointer struct {
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateRubric stores a rubric under its version. Versions are immutable:
// writing an existing version returns ErrAlreadyExists, so published scores
// always trace back to the exact rubric that produced them.
func (s *Store) CreateRubric(ctx context.Context, r *rubric.Rubric) error {
	if err := r.Validate(); err != nil {
		return err
	}

	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal rubric: %w", err)
	}

	if _, err := s.rubrics.Create(ctx, r.Version, data); err != nil {
		if isAlreadyExists(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("store rubric: %w", err)
	}

	return nil
}

// GetRubric retrieves a rubric by version.
func (s *Store) GetRubric(ctx context.Context, version string) (*rubric.Rubric, error) {
	entry, err := s.rubrics.Get(ctx, version)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get rubric: %w", err)
	}

	var r rubric.Rubric
	if err := json.Unmarshal(entry.Value(), &r); err != nil {
		return nil, fmt.Errorf("unmarshal rubric: %w", err)
	}

	return &r, nil
}

// ListRubrics returns all stored rubric versions.
func (s *Store) ListRubrics(ctx context.Context) ([]*rubric.Rubric, error) {
	keys, err := s.rubrics.Keys(ctx)
	if err != nil {
		if err == jetstream.ErrNoKeysFound {
			return nil, nil
		}
		return nil, fmt.Errorf("list rubric keys: %w", err)
	}

	rubrics := make([]*rubric.Rubric, 0, len(keys))
	for _, key := range keys {
		entry, err := s.rubrics.Get(ctx, key)
		if err != nil {
			continue
		}
		var r rubric.Rubric
		if err := json.Unmarshal(entry.Value(), &r); err != nil {
			continue
		}
		rubrics = append(rubrics, &r)
	}

	return rubrics, nil
}

// CreateTemplate stores a prompt template under its ID. Template IDs are
// immutable like rubric versions: writing an existing ID returns
// ErrAlreadyExists, so an evaluation's prompt can always be reconstructed
// from the template it names.
func (s *Store) CreateTemplate(ctx context.Context, t *prompt.Template) error {
	if err := t.Validate(); err != nil {
		return err
	}

	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal template: %w", err)
	}

	if _, err := s.templates.Create(ctx, t.ID, data); err != nil {
		if isAlreadyExists(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("store template: %w", err)
	}

	return nil
}

// GetTemplate retrieves a prompt template by ID.
func (s *Store) GetTemplate(ctx context.Context, id string) (*prompt.Template, error) {
	entry, err := s.templates.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get template: %w", err)
	}

	var t prompt.Template
	if err := json.Unmarshal(entry.Value(), &t); err != nil {
		return nil, fmt.Errorf("unmarshal template: %w", err)
	}

	return &t, nil
}

// PutProvider stores a provider config under its name.
func (s *Store) PutProvider(ctx context.Context, cfg *llm.ProviderConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal provider config: %w", err)
	}

	if _, err := s.providers.Put(ctx, cfg.Name, data); err != nil {
		return fmt.Errorf("store provider config: %w", err)
	}

	return nil
}

// GetProvider retrieves a provider config by name.
func (s *Store) GetProvider(ctx context.Context, name string) (*llm.ProviderConfig, error) {
	entry, err := s.providers.Get(ctx, name)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get provider config: %w", err)
	}

	var cfg llm.ProviderConfig
	if err := json.Unmarshal(entry.Value(), &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal provider config: %w", err)
	}

	return &cfg, nil
}

// SetPointer makes target the active selection for the given pointer key.
// The referenced entry must already exist in its catalog bucket.
func (s *Store) SetPointer(ctx context.Context, key, target string) error {
	switch key {
	case PointerActiveRubric:
		if _, err := s.GetRubric(ctx, target); err != nil {
			return fmt.Errorf("activate rubric %s: %w", target, err)
		}
	case PointerActiveProvider:
		if _, err := s.GetProvider(ctx, target); err != nil {
			return fmt.Errorf("activate provider %s: %w", target, err)
		}
	default:
		return fmt.Errorf("unknown pointer key: %s", key)
	}

	data, err := json.Marshal(Pointer{Value: target, UpdatedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("marshal pointer: %w", err)
	}

	if _, err := s.pointers.Put(ctx, key, data); err != nil {
		return fmt.Errorf("set pointer %s: %w", key, err)
	}

	return nil
}

// GetPointer returns the active selection for the given pointer key, or
// ErrNotFound when nothing has been activated.
func (s *Store) GetPointer(ctx context.Context, key string) (string, error) {
	entry, err := s.pointers.Get(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get pointer %s: %w", key, err)
	}

	var p Pointer
	if err := json.Unmarshal(entry.Value(), &p); err != nil {
		return "", fmt.Errorf("unmarshal pointer: %w", err)
	}

	return p.Value, nil
}

// ActiveRubric resolves the currently active rubric.
func (s *Store) ActiveRubric(ctx context.Context) (*rubric.Rubric, error) {
	version, err := s.GetPointer(ctx, PointerActiveRubric)
	if err != nil {
		return nil, err
	}
	return s.GetRubric(ctx, version)
}

// ActiveProvider resolves the currently active provider config.
func (s *Store) ActiveProvider(ctx context.Context) (*llm.ProviderConfig, error) {
	name, err := s.GetPointer(ctx, PointerActiveProvider)
	if err != nil {
		return nil, err
	}
	return s.GetProvider(ctx, name)
}
