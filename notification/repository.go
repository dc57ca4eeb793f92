package notification

import (
	"context"
	"sync"

	"github.com/google/uuid"

	apperrors "github.com/datarill/datarill/errors"
)

// Repository stores notification configurations.
type Repository interface {
	Create(ctx context.Context, cfg *Config) (*Config, error)
	Get(ctx context.Context, id string) (*Config, error)
	GetAll(ctx context.Context) ([]*Config, error)
	GetByPipeline(ctx context.Context, pipelineID string) ([]*Config, error)

	// Update replaces the configuration with the given id; unknown ids and
	// id changes are rejected.
	Update(ctx context.Context, id string, cfg *Config) error

	// Delete removes the configuration. Unknown ids are rejected.
	Delete(ctx context.Context, id string) error

	// DeleteByPipeline removes every configuration attached to a pipeline
	// and returns how many were removed.
	DeleteByPipeline(ctx context.Context, pipelineID string) (int, error)
}

// MemoryRepository is a mutex-guarded in-memory Repository.
type MemoryRepository struct {
	mu      sync.RWMutex
	configs map[string]Config
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{configs: make(map[string]Config)}
}

func (r *MemoryRepository) Create(_ context.Context, cfg *Config) (*Config, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *cfg
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if _, exists := r.configs[stored.ID]; exists {
		return nil, apperrors.Conflict("notification id already exists")
	}
	r.configs[stored.ID] = stored
	result := stored
	return &result, nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.configs[id]
	if !ok {
		return nil, apperrors.NotFound("notification", id)
	}
	result := cfg
	return &result, nil
}

func (r *MemoryRepository) GetAll(_ context.Context) ([]*Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*Config, 0, len(r.configs))
	for _, cfg := range r.configs {
		cfg := cfg
		all = append(all, &cfg)
	}
	return all, nil
}

func (r *MemoryRepository) GetByPipeline(_ context.Context, pipelineID string) ([]*Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*Config
	for _, cfg := range r.configs {
		if cfg.PipelineID == pipelineID {
			cfg := cfg
			matched = append(matched, &cfg)
		}
	}
	return matched, nil
}

func (r *MemoryRepository) Update(_ context.Context, id string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.configs[id]; !ok {
		return apperrors.NotFound("notification", id)
	}
	if cfg.ID != "" && cfg.ID != id {
		return apperrors.Conflict("notification id is immutable")
	}
	stored := *cfg
	stored.ID = id
	r.configs[id] = stored
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.configs[id]; !ok {
		return apperrors.NotFound("notification", id)
	}
	delete(r.configs, id)
	return nil
}

func (r *MemoryRepository) DeleteByPipeline(_ context.Context, pipelineID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, cfg := range r.configs {
		if cfg.PipelineID == pipelineID {
			delete(r.configs, id)
			removed++
		}
	}
	return removed, nil
}
