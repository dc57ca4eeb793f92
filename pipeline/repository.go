package pipeline

import (
	"context"
	"sync"

	"github.com/google/uuid"

	apperrors "github.com/datarill/datarill/errors"
)

// Repository stores pipeline configurations. Persistent implementations
// live outside this module; MemoryRepository backs tests and single-node
// deployments.
type Repository interface {
	Create(ctx context.Context, cfg *Config) (*Config, error)
	Get(ctx context.Context, id string) (*Config, error)
	GetAll(ctx context.Context) ([]*Config, error)
	GetByDatasource(ctx context.Context, datasourceID string) ([]*Config, error)

	// Update replaces the configuration with the given id. The id is
	// immutable; an update naming a different id in cfg is rejected.
	Update(ctx context.Context, id string, cfg *Config) error

	// Delete removes the configuration. Unknown ids are rejected.
	Delete(ctx context.Context, id string) error
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
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *cfg
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if _, exists := r.configs[stored.ID]; exists {
		return nil, apperrors.Conflict("pipeline id already exists")
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
		return nil, apperrors.NotFound("pipeline", id)
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

func (r *MemoryRepository) GetByDatasource(_ context.Context, datasourceID string) ([]*Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*Config
	for _, cfg := range r.configs {
		if cfg.DatasourceID == datasourceID {
			cfg := cfg
			matched = append(matched, &cfg)
		}
	}
	return matched, nil
}

func (r *MemoryRepository) Update(_ context.Context, id string, cfg *Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.configs[id]; !ok {
		return apperrors.NotFound("pipeline", id)
	}
	if cfg.ID != "" && cfg.ID != id {
		return apperrors.Conflict("pipeline id is immutable")
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
		return apperrors.NotFound("pipeline", id)
	}
	delete(r.configs, id)
	return nil
}
