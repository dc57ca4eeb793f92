package pipeline

import (
	"context"
	"encoding/json"

	"github.com/datarill/datarill/eventbus"
	"github.com/datarill/datarill/events"
	"github.com/datarill/datarill/logger"
)

// TriggerQueue is shared by every pipeline service instance so trigger
// events are load-balanced across them.
const TriggerQueue = "pipeline.trigger"

// TriggerConsumer consumes datasource trigger events and runs the matching
// pipelines through the Manager.
type TriggerConsumer struct {
	manager *Manager
	log     *logger.Logger
}

var _ eventbus.Consumer = (*TriggerConsumer)(nil)

// NewTriggerConsumer wires a TriggerConsumer.
func NewTriggerConsumer(manager *Manager) *TriggerConsumer {
	return &TriggerConsumer{
		manager: manager,
		log:     logger.WithComponent("trigger-consumer"),
	}
}

func (c *TriggerConsumer) Name() string { return "trigger-consumer" }

// Setup declares the shared trigger queue bound to datasource success events.
func (c *TriggerConsumer) Setup(ch eventbus.Channel) (string, error) {
	if err := ch.DeclareTopicExchange(events.Exchange); err != nil {
		return "", err
	}
	queue, err := ch.DeclareQueue(TriggerQueue, false)
	if err != nil {
		return "", err
	}
	if err := ch.BindQueue(queue, events.Exchange, events.TopicDatasourceExecutionSuccess); err != nil {
		return "", err
	}
	return queue, nil
}

// Handle validates the trigger event and runs the matching pipelines.
// Malformed messages are dropped with a warning; requeueing them could
// never succeed. Manager failures requeue.
func (c *TriggerConsumer) Handle(ctx context.Context, msg eventbus.Message) error {
	var event events.DatasourceEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		c.log.Warn("Dropping unparseable trigger event", map[string]interface{}{
			"message_id": msg.MessageID,
			"error":      err.Error(),
		})
		return nil
	}
	if err := event.Validate(); err != nil {
		c.log.Warn("Dropping invalid trigger event", map[string]interface{}{
			"message_id": msg.MessageID,
			"error":      err.Error(),
		})
		return nil
	}
	return c.manager.TriggerConfig(ctx, event.DatasourceID, event.Data)
}
