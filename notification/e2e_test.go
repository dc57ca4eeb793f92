package notification_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/datarill/datarill/eventbus"
	"github.com/datarill/datarill/eventbus/bustest"
	"github.com/datarill/datarill/events"
	"github.com/datarill/datarill/httpclient"
	"github.com/datarill/datarill/logger"
	"github.com/datarill/datarill/notification"
	"github.com/datarill/datarill/pipeline"
	"github.com/datarill/datarill/sandbox"
	"github.com/datarill/datarill/testutil"
)

// TestTriggerToWebhook drives the full path: a datasource trigger event runs
// an identity pipeline, its success event is evaluated against a webhook
// subscription, and the webhook endpoint receives exactly one delivery with
// a location field.
func TestTriggerToWebhook(t *testing.T) {
	broker := bustest.NewBroker()
	ctx := context.Background()

	var sbCfg sandbox.Config
	sbCfg.ApplyDefaults()

	var busCfg eventbus.Config
	busCfg.ApplyDefaults()

	// Webhook endpoint.
	var mu sync.Mutex
	var deliveries []map[string]any
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(req.Body).Decode(&body)
		mu.Lock()
		deliveries = append(deliveries, body)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()

	// Pipeline service side.
	pub, err := broker.Channel()
	if err != nil {
		t.Fatalf("Channel: %v", err)
	}
	if err := pub.DeclareTopicExchange(events.Exchange); err != nil {
		t.Fatalf("DeclareTopicExchange: %v", err)
	}
	pipelineRepo := pipeline.NewMemoryRepository()
	manager := pipeline.NewManager(pipelineRepo, pub, sandbox.NewExecutor(sbCfg))
	created, err := manager.Create(ctx, &pipeline.Config{
		DatasourceID: "ds1",
		Metadata:     pipeline.Metadata{DisplayName: "identity"},
	})
	if err != nil {
		t.Fatalf("Create pipeline: %v", err)
	}

	pipelineComp := eventbus.NewComponent(busCfg, logger.NewDefault("pipeline"))
	pipelineComp.SetDialer(broker.Dialer())
	pipelineComp.AddConsumer(pipeline.NewTriggerConsumer(manager))
	testutil.T(t).Setup(pipelineComp)

	// Notification service side.
	var clientCfg httpclient.Config
	clientCfg.ApplyDefaults()
	client, err := httpclient.New(clientCfg)
	if err != nil {
		t.Fatalf("httpclient.New: %v", err)
	}
	var settings notification.Settings
	settings.ApplyDefaults()

	notifRepo := notification.NewMemoryRepository()
	if _, err := notifRepo.Create(ctx, &notification.Config{
		PipelineID: created.ID,
		Condition:  "data.one === 1",
		Type:       notification.TypeWebhook,
		Parameter:  notification.Parameter{Webhook: &notification.WebhookParameter{URL: hook.URL}},
	}); err != nil {
		t.Fatalf("Create notification: %v", err)
	}

	executor := notification.NewExecutor(notifRepo, sandbox.NewExecutor(sbCfg), client, settings)
	notifComp := eventbus.NewComponent(busCfg, logger.NewDefault("notification"))
	notifComp.SetDialer(broker.Dialer())
	notifComp.AddConsumer(notification.NewExecutionConsumer(executor))
	notifComp.AddConsumer(notification.NewConfigConsumer(notifRepo))
	testutil.T(t).Setup(notifComp)

	// Fire the trigger.
	event := events.DatasourceEvent{DatasourceID: "ds1", Data: map[string]any{"one": 1}}
	if err := pub.Publish(ctx, events.Exchange, events.TopicDatasourceExecutionSuccess, event); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		mu.Lock()
		count := len(deliveries)
		mu.Unlock()
		if count > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("webhook not called")
		case <-time.After(20 * time.Millisecond):
		}
	}

	// Let any duplicate dispatch surface before asserting exactly one call.
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(deliveries) != 1 {
		t.Fatalf("webhook called %d times, want 1", len(deliveries))
	}
	body := deliveries[0]
	location, _ := body["location"].(string)
	if location == "" {
		t.Error("delivery has no location")
	}
	if body["message"] == nil || body["timestamp"] == nil {
		t.Errorf("delivery incomplete: %v", body)
	}
}
