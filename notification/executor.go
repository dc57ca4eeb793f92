package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"

	apperrors "github.com/datarill/datarill/errors"
	"github.com/datarill/datarill/events"
	"github.com/datarill/datarill/httpclient"
	"github.com/datarill/datarill/logger"
	"github.com/datarill/datarill/sandbox"
)

// Executor evaluates notification conditions against execution results and
// fans out to the channel senders.
type Executor struct {
	repo     Repository
	sandbox  *sandbox.Executor
	webhook  *WebhookSender
	slack    *SlackSender
	fcm      *FCMSender
	settings Settings
	log      *logger.Logger
}

// NewExecutor wires an Executor from its collaborators.
func NewExecutor(repo Repository, sb *sandbox.Executor, client *httpclient.Client, settings Settings) *Executor {
	return &Executor{
		repo:     repo,
		sandbox:  sb,
		webhook:  NewWebhookSender(client),
		slack:    NewSlackSender(client, settings.SlackBaseURL),
		fcm:      NewFCMSender(settings.FCMBaseURL),
		settings: settings,
		log:      logger.WithComponent("notification-executor"),
	}
}

// HandleEvent dispatches every matching notification for one execution
// result. All dispatches run concurrently; a failed channel send or a
// malformed condition is logged and never affects the siblings. The
// returned error covers only event validation and repository access, the
// cases where redelivery can help.
func (e *Executor) HandleEvent(ctx context.Context, event events.ExecutionResultEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}

	configs, err := e.repo.GetByPipeline(ctx, event.PipelineID)
	if err != nil {
		return err
	}
	if len(configs) == 0 {
		return nil
	}

	delivery := e.buildDelivery(event)

	var wg sync.WaitGroup
	for _, cfg := range configs {
		cfg := cfg
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.dispatchOne(ctx, cfg, event, delivery)
		}()
	}
	wg.Wait()
	return nil
}

// dispatchOne evaluates one config's condition and sends on match. A
// malformed condition is treated as not satisfied and logged; it never
// propagates.
func (e *Executor) dispatchOne(ctx context.Context, cfg *Config, event events.ExecutionResultEvent, d Delivery) {
	matched, err := e.sandbox.Evaluate(ctx, cfg.Condition, event.Data)
	if err != nil {
		e.log.Warn("Condition could not be evaluated, skipping notification", map[string]interface{}{
			"notification":       cfg.ID,
			logger.FieldPipeline: cfg.PipelineID,
			logger.FieldError:    err.Error(),
		})
		return
	}
	if !matched {
		e.log.Debug("Condition not met", map[string]interface{}{
			"notification": cfg.ID,
			"pipeline":     cfg.PipelineID,
		})
		return
	}

	if err := e.send(ctx, cfg, d); err != nil {
		e.log.Error("Notification delivery failed", map[string]interface{}{
			"notification":       cfg.ID,
			logger.FieldPipeline: cfg.PipelineID,
			logger.FieldChannel:  string(cfg.Type),
			logger.FieldError:    err.Error(),
		})
		return
	}
	e.log.Info("Notification delivered", map[string]interface{}{
		"notification": cfg.ID,
		"type":         string(cfg.Type),
	})
}

// send is the single dispatch site; the switch over the parameter tag is
// exhaustive.
func (e *Executor) send(ctx context.Context, cfg *Config, d Delivery) error {
	switch cfg.Type {
	case TypeWebhook:
		return e.webhook.Send(ctx, *cfg.Parameter.Webhook, d)
	case TypeSlack:
		return e.slack.Send(ctx, *cfg.Parameter.Slack, d)
	case TypeFCM:
		return e.fcm.Send(ctx, *cfg.Parameter.FCM, d)
	default:
		return apperrors.InvalidInput("type", fmt.Sprintf("unknown notification type %q", cfg.Type))
	}
}

func (e *Executor) buildDelivery(event events.ExecutionResultEvent) Delivery {
	location := fmt.Sprintf("%s/pipelines/%s/latest",
		strings.TrimRight(e.settings.StorageBaseURL, "/"), event.PipelineID)

	message := fmt.Sprintf("Pipeline %s produced new data.", event.PipelineName)
	if event.IsError() {
		message = fmt.Sprintf("Pipeline %s failed: %s", event.PipelineName, event.Error)
	}

	return Delivery{
		Location:  location,
		Message:   message,
		Timestamp: event.Timestamp,
	}
}
