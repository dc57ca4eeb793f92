package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/datarill/datarill/eventbus"
	"github.com/datarill/datarill/events"
	"github.com/datarill/datarill/logger"
	"github.com/datarill/datarill/sandbox"
)

// Manager owns pipeline configuration lifecycle and trigger orchestration.
type Manager struct {
	repo      Repository
	publisher eventbus.Publisher
	executor  *sandbox.Executor
	log       *logger.Logger
}

// NewManager wires a Manager.
func NewManager(repo Repository, publisher eventbus.Publisher, executor *sandbox.Executor) *Manager {
	return &Manager{
		repo:      repo,
		publisher: publisher,
		executor:  executor,
		log:       logger.WithComponent("pipeline-manager"),
	}
}

// Create persists a new configuration and publishes the created event.
// The publish is best-effort; a failure is logged, not returned.
func (m *Manager) Create(ctx context.Context, cfg *Config) (*Config, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	created, err := m.repo.Create(ctx, cfg)
	if err != nil {
		return nil, err
	}
	m.publishLifecycle(ctx, events.TopicPipelineConfigCreated, created)
	return created, nil
}

// Get returns one configuration.
func (m *Manager) Get(ctx context.Context, id string) (*Config, error) {
	return m.repo.Get(ctx, id)
}

// GetAll returns every configuration.
func (m *Manager) GetAll(ctx context.Context) ([]*Config, error) {
	return m.repo.GetAll(ctx)
}

// Update replaces a configuration and publishes the updated event.
func (m *Manager) Update(ctx context.Context, id string, cfg *Config) error {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := m.repo.Update(ctx, id, cfg); err != nil {
		return err
	}
	cfg.ID = id
	m.publishLifecycle(ctx, events.TopicPipelineConfigUpdated, cfg)
	return nil
}

// Delete removes a configuration and publishes the deleted event.
func (m *Manager) Delete(ctx context.Context, id string) error {
	cfg, err := m.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := m.repo.Delete(ctx, id); err != nil {
		return err
	}
	m.publishLifecycle(ctx, events.TopicPipelineConfigDeleted, cfg)
	return nil
}

func (m *Manager) publishLifecycle(ctx context.Context, topic string, cfg *Config) {
	event := events.PipelineConfigEvent{
		PipelineID:   cfg.ID,
		PipelineName: cfg.Metadata.DisplayName,
	}
	if err := m.publisher.Publish(ctx, events.Exchange, topic, event); err != nil {
		// Persisted state and the event log may diverge here; the gap is
		// accepted and surfaced in the logs.
		m.log.Error("Lifecycle event publish failed", map[string]interface{}{
			logger.FieldTopic:    topic,
			logger.FieldPipeline: cfg.ID,
			logger.FieldError:    err.Error(),
		})
	}
}

// TriggerConfig runs every pipeline attached to datasourceID against data,
// concurrently, and publishes exactly one execution result event per
// pipeline. One pipeline's failure never blocks the others.
func (m *Manager) TriggerConfig(ctx context.Context, datasourceID string, data any) error {
	configs, err := m.repo.GetByDatasource(ctx, datasourceID)
	if err != nil {
		return err
	}
	if len(configs) == 0 {
		m.log.Info("No pipelines for datasource", map[string]interface{}{
			logger.FieldDatasource: datasourceID,
		})
		return nil
	}

	m.log.Info("Triggering pipelines", map[string]interface{}{
		logger.FieldDatasource: datasourceID,
		"count":                len(configs),
	})

	var wg sync.WaitGroup
	for _, cfg := range configs {
		cfg := cfg
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.runPipeline(ctx, cfg, data)
		}()
	}
	wg.Wait()
	return nil
}

// runPipeline executes one transformation and publishes its result event.
func (m *Manager) runPipeline(ctx context.Context, cfg *Config, data any) {
	outcome, err := m.executor.Execute(ctx, cfg.Transformation.Func, data)
	if err != nil {
		// Executor-level failure (bulkhead saturation), not user code.
		m.publishResult(ctx, cfg, events.ExecutionResultEvent{
			PipelineID:   cfg.ID,
			PipelineName: cfg.Metadata.DisplayName,
			Error:        err.Error(),
		}, events.TopicPipelineExecutionError)
		return
	}

	switch o := outcome.(type) {
	case sandbox.Success:
		m.publishResult(ctx, cfg, events.ExecutionResultEvent{
			PipelineID:   cfg.ID,
			PipelineName: cfg.Metadata.DisplayName,
			Data:         o.Value,
			Timestamp:    o.Stats.EndTimestamp,
		}, events.TopicPipelineExecutionSuccess)
	default:
		jobErr, _ := sandbox.ErrorOf(outcome)
		m.publishResult(ctx, cfg, events.ExecutionResultEvent{
			PipelineID:   cfg.ID,
			PipelineName: cfg.Metadata.DisplayName,
			Error:        fmt.Sprintf("%s: %s", jobErr.Name, jobErr.Message),
		}, events.TopicPipelineExecutionError)
	}
}

func (m *Manager) publishResult(ctx context.Context, cfg *Config, event events.ExecutionResultEvent, topic string) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if err := m.publisher.Publish(ctx, events.Exchange, topic, event); err != nil {
		m.log.Error("Execution result publish failed", map[string]interface{}{
			logger.FieldTopic:    topic,
			logger.FieldPipeline: cfg.ID,
			logger.FieldError:    err.Error(),
		})
	}
}
