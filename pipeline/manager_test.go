package pipeline_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/datarill/datarill/eventbus"
	"github.com/datarill/datarill/eventbus/bustest"
	"github.com/datarill/datarill/events"
	"github.com/datarill/datarill/pipeline"
	"github.com/datarill/datarill/sandbox"
)

func newSandbox(t *testing.T) *sandbox.Executor {
	t.Helper()
	var cfg sandbox.Config
	cfg.ApplyDefaults()
	return sandbox.NewExecutor(cfg)
}

// resultCapture consumes execution result events from the broker.
func resultCapture(t *testing.T, broker *bustest.Broker) <-chan events.ExecutionResultEvent {
	t.Helper()
	ch, err := broker.Channel()
	if err != nil {
		t.Fatalf("Channel: %v", err)
	}
	if err := ch.DeclareTopicExchange(events.Exchange); err != nil {
		t.Fatalf("DeclareTopicExchange: %v", err)
	}
	queue, err := ch.DeclareQueue("capture", false)
	if err != nil {
		t.Fatalf("DeclareQueue: %v", err)
	}
	if err := ch.BindQueue(queue, events.Exchange, events.TopicPipelineExecutionAll); err != nil {
		t.Fatalf("BindQueue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	out := make(chan events.ExecutionResultEvent, 16)
	go func() {
		_ = ch.Consume(ctx, queue, func(_ context.Context, msg eventbus.Message) error {
			var event events.ExecutionResultEvent
			if err := json.Unmarshal(msg.Body, &event); err != nil {
				return nil
			}
			out <- event
			return nil
		})
	}()
	return out
}

func newManager(t *testing.T, broker *bustest.Broker) (*pipeline.Manager, pipeline.Repository) {
	t.Helper()
	pub, err := broker.Channel()
	if err != nil {
		t.Fatalf("Channel: %v", err)
	}
	repo := pipeline.NewMemoryRepository()
	return pipeline.NewManager(repo, pub, newSandbox(t)), repo
}

func TestManagerLifecycleEvents(t *testing.T) {
	broker := bustest.NewBroker()
	mgr, _ := newManager(t, broker)

	ch, err := broker.Channel()
	if err != nil {
		t.Fatalf("Channel: %v", err)
	}
	if err := ch.DeclareTopicExchange(events.Exchange); err != nil {
		t.Fatalf("DeclareTopicExchange: %v", err)
	}
	queue, err := ch.DeclareQueue("lifecycle", false)
	if err != nil {
		t.Fatalf("DeclareQueue: %v", err)
	}
	if err := ch.BindQueue(queue, events.Exchange, "pipeline.config.*"); err != nil {
		t.Fatalf("BindQueue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	topics := make(chan string, 8)
	go func() {
		_ = ch.Consume(ctx, queue, func(_ context.Context, msg eventbus.Message) error {
			topics <- msg.Topic
			return nil
		})
	}()

	cfg := &pipeline.Config{
		DatasourceID: "ds1",
		Metadata:     pipeline.Metadata{DisplayName: "demo"},
	}
	created, err := mgr.Create(ctx, cfg)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mgr.Update(ctx, created.ID, created); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := mgr.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	want := []string{
		events.TopicPipelineConfigCreated,
		events.TopicPipelineConfigUpdated,
		events.TopicPipelineConfigDeleted,
	}
	for _, topic := range want {
		select {
		case got := <-topics:
			if got != topic {
				t.Errorf("topic = %q, want %q", got, topic)
			}
		case <-time.After(time.Second):
			t.Fatalf("no %q event", topic)
		}
	}
}

func TestTriggerConfigPublishesOneResultPerPipeline(t *testing.T) {
	broker := bustest.NewBroker()
	mgr, _ := newManager(t, broker)
	results := resultCapture(t, broker)
	ctx := context.Background()

	identity := &pipeline.Config{
		DatasourceID: "ds1",
		Metadata:     pipeline.Metadata{DisplayName: "identity"},
	}
	broken := &pipeline.Config{
		DatasourceID:   "ds1",
		Transformation: pipeline.Transformation{Func: "return data.missing.deep;"},
		Metadata:       pipeline.Metadata{DisplayName: "broken"},
	}
	for _, cfg := range []*pipeline.Config{identity, broken} {
		if _, err := mgr.Create(ctx, cfg); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	if err := mgr.TriggerConfig(ctx, "ds1", map[string]any{"one": 1}); err != nil {
		t.Fatalf("TriggerConfig: %v", err)
	}

	byName := map[string]events.ExecutionResultEvent{}
	for i := 0; i < 2; i++ {
		select {
		case event := <-results:
			byName[event.PipelineName] = event
		case <-time.After(time.Second):
			t.Fatalf("only %d result events received", len(byName))
		}
	}

	success, ok := byName["identity"]
	if !ok {
		t.Fatal("no result for the identity pipeline")
	}
	if success.IsError() {
		t.Errorf("identity pipeline failed: %s", success.Error)
	}
	data, ok := success.Data.(map[string]any)
	if !ok || data["one"] != float64(1) {
		t.Errorf("identity result data = %v", success.Data)
	}

	failure, ok := byName["broken"]
	if !ok {
		t.Fatal("no result for the broken pipeline")
	}
	if !failure.IsError() {
		t.Error("broken pipeline reported success")
	}
	if failure.Error == "" {
		t.Error("error event without error message")
	}

	select {
	case extra := <-results:
		t.Errorf("unexpected extra result event: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTriggerConfigNoPipelines(t *testing.T) {
	broker := bustest.NewBroker()
	mgr, _ := newManager(t, broker)
	results := resultCapture(t, broker)

	if err := mgr.TriggerConfig(context.Background(), "unknown", 1); err != nil {
		t.Fatalf("TriggerConfig: %v", err)
	}
	select {
	case event := <-results:
		t.Errorf("unexpected result event: %+v", event)
	case <-time.After(100 * time.Millisecond):
	}
}
