package notification

import (
	"context"
	"encoding/json"

	"github.com/datarill/datarill/eventbus"
	"github.com/datarill/datarill/events"
	"github.com/datarill/datarill/logger"
)

// Queue names shared by every notification service instance so events are
// load-balanced across them.
const (
	ExecutionQueue = "notification.execution"
	ConfigQueue    = "notification.pipeline-config"
)

// ExecutionConsumer feeds pipeline execution results to the Executor.
type ExecutionConsumer struct {
	executor *Executor
	log      *logger.Logger
}

var _ eventbus.Consumer = (*ExecutionConsumer)(nil)

// NewExecutionConsumer wires an ExecutionConsumer.
func NewExecutionConsumer(executor *Executor) *ExecutionConsumer {
	return &ExecutionConsumer{
		executor: executor,
		log:      logger.WithComponent("execution-consumer"),
	}
}

func (c *ExecutionConsumer) Name() string { return "execution-consumer" }

// Setup declares the shared queue bound to both execution result topics.
func (c *ExecutionConsumer) Setup(ch eventbus.Channel) (string, error) {
	if err := ch.DeclareTopicExchange(events.Exchange); err != nil {
		return "", err
	}
	queue, err := ch.DeclareQueue(ExecutionQueue, false)
	if err != nil {
		return "", err
	}
	if err := ch.BindQueue(queue, events.Exchange, events.TopicPipelineExecutionAll); err != nil {
		return "", err
	}
	return queue, nil
}

// Handle decodes the result event and hands it to the Executor. Unparseable
// bodies are dropped; handler errors requeue.
func (c *ExecutionConsumer) Handle(ctx context.Context, msg eventbus.Message) error {
	var event events.ExecutionResultEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		c.log.Warn("Dropping unparseable execution event", map[string]interface{}{
			"message_id": msg.MessageID,
			"error":      err.Error(),
		})
		return nil
	}
	if err := event.Validate(); err != nil {
		c.log.Warn("Dropping invalid execution event", map[string]interface{}{
			"message_id": msg.MessageID,
			"error":      err.Error(),
		})
		return nil
	}
	return c.executor.HandleEvent(ctx, event)
}

// ConfigConsumer removes notification configs orphaned by pipeline
// deletion, keeping the subscriber store consistent with pipeline
// lifecycle events.
type ConfigConsumer struct {
	repo Repository
	log  *logger.Logger
}

var _ eventbus.Consumer = (*ConfigConsumer)(nil)

// NewConfigConsumer wires a ConfigConsumer.
func NewConfigConsumer(repo Repository) *ConfigConsumer {
	return &ConfigConsumer{
		repo: repo,
		log:  logger.WithComponent("config-consumer"),
	}
}

func (c *ConfigConsumer) Name() string { return "config-consumer" }

// Setup declares the shared queue bound to pipeline deletion events.
func (c *ConfigConsumer) Setup(ch eventbus.Channel) (string, error) {
	if err := ch.DeclareTopicExchange(events.Exchange); err != nil {
		return "", err
	}
	queue, err := ch.DeclareQueue(ConfigQueue, false)
	if err != nil {
		return "", err
	}
	if err := ch.BindQueue(queue, events.Exchange, events.TopicPipelineConfigDeleted); err != nil {
		return "", err
	}
	return queue, nil
}

// Handle deletes every notification config attached to the deleted
// pipeline.
func (c *ConfigConsumer) Handle(ctx context.Context, msg eventbus.Message) error {
	var event events.PipelineConfigEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		c.log.Warn("Dropping unparseable config event", map[string]interface{}{
			"message_id": msg.MessageID,
			"error":      err.Error(),
		})
		return nil
	}
	if err := event.Validate(); err != nil {
		c.log.Warn("Dropping invalid config event", map[string]interface{}{
			"message_id": msg.MessageID,
			"error":      err.Error(),
		})
		return nil
	}

	removed, err := c.repo.DeleteByPipeline(ctx, event.PipelineID)
	if err != nil {
		return err
	}
	if removed > 0 {
		c.log.Info("Removed orphaned notification configs", map[string]interface{}{
			"pipeline": event.PipelineID,
			"count":    removed,
		})
	}
	return nil
}
