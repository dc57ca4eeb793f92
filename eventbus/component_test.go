package eventbus_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/datarill/datarill/eventbus"
	"github.com/datarill/datarill/eventbus/bustest"
	"github.com/datarill/datarill/logger"
)

type captureConsumer struct {
	queue   string
	pattern string
	got     chan eventbus.Message
}

func (c *captureConsumer) Name() string { return "capture" }

func (c *captureConsumer) Setup(ch eventbus.Channel) (string, error) {
	if err := ch.DeclareTopicExchange("test"); err != nil {
		return "", err
	}
	name, err := ch.DeclareQueue(c.queue, false)
	if err != nil {
		return "", err
	}
	if err := ch.BindQueue(name, "test", c.pattern); err != nil {
		return "", err
	}
	return name, nil
}

func (c *captureConsumer) Handle(_ context.Context, msg eventbus.Message) error {
	c.got <- msg
	return nil
}

func TestComponentLifecycle(t *testing.T) {
	broker := bustest.NewBroker()
	var cfg eventbus.Config
	cfg.ApplyDefaults()

	comp := eventbus.NewComponent(cfg, logger.NewDefault("test"))
	comp.SetDialer(broker.Dialer())

	consumer := &captureConsumer{
		queue:   "results",
		pattern: "pipeline.execution.*",
		got:     make(chan eventbus.Message, 1),
	}
	comp.AddConsumer(consumer)

	ctx := context.Background()
	if err := comp.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		if err := comp.Stop(ctx); err != nil {
			t.Errorf("Stop: %v", err)
		}
	}()

	if h := comp.Health(ctx); h.Status != "healthy" {
		t.Errorf("health = %+v", h)
	}

	pub, err := comp.Bus().Channel()
	if err != nil {
		t.Fatalf("Channel: %v", err)
	}
	if err := pub.Publish(ctx, "test", "pipeline.execution.success", map[string]any{"ok": true}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-consumer.got:
		var body map[string]any
		if err := json.Unmarshal(msg.Body, &body); err != nil {
			t.Fatalf("body: %v", err)
		}
		if body["ok"] != true {
			t.Errorf("payload = %v", body)
		}
	case <-time.After(time.Second):
		t.Fatal("consumer did not receive the message")
	}
}

func TestComponentStartIdempotent(t *testing.T) {
	broker := bustest.NewBroker()
	var cfg eventbus.Config
	cfg.ApplyDefaults()

	comp := eventbus.NewComponent(cfg, logger.NewDefault("test"))
	comp.SetDialer(broker.Dialer())

	ctx := context.Background()
	if err := comp.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := comp.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if err := comp.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if h := comp.Health(ctx); h.Status == "healthy" {
		t.Error("stopped component reports healthy")
	}
}

type failingConsumer struct{ err error }

func (f *failingConsumer) Name() string                                   { return "failing" }
func (f *failingConsumer) Setup(eventbus.Channel) (string, error)         { return "", f.err }
func (f *failingConsumer) Handle(context.Context, eventbus.Message) error { return nil }

func TestComponentStartFailureReleasesHandles(t *testing.T) {
	broker := bustest.NewBroker()
	var cfg eventbus.Config
	cfg.ApplyDefaults()

	comp := eventbus.NewComponent(cfg, logger.NewDefault("test"))
	comp.SetDialer(broker.Dialer())
	comp.AddConsumer(&captureConsumer{
		queue:   "ok",
		pattern: "#",
		got:     make(chan eventbus.Message, 1),
	})
	comp.AddConsumer(&failingConsumer{err: errors.New("queue declare refused")})

	ctx := context.Background()
	if err := comp.Start(ctx); err == nil {
		t.Fatal("Start succeeded with a failing consumer")
	}
	if !broker.Closed() {
		t.Error("bus connection left open after failed Start")
	}
	if h := comp.Health(ctx); h.Status == "healthy" {
		t.Errorf("failed component reports healthy: %+v", h)
	}
}

// idleConsumer sets up against a stub channel that fails its consume loop.
type idleConsumer struct{}

func (idleConsumer) Name() string                                   { return "idle" }
func (idleConsumer) Setup(eventbus.Channel) (string, error)         { return "q", nil }
func (idleConsumer) Handle(context.Context, eventbus.Message) error { return nil }

type stubChannel struct{ consumeErr error }

func (s *stubChannel) DeclareTopicExchange(string) error                  { return nil }
func (s *stubChannel) DeclareQueue(name string, _ bool) (string, error)   { return name, nil }
func (s *stubChannel) BindQueue(string, string, string) error             { return nil }
func (s *stubChannel) Publish(context.Context, string, string, any) error { return nil }
func (s *stubChannel) Close() error                                       { return nil }

func (s *stubChannel) Consume(context.Context, string, eventbus.Handler) error {
	return s.consumeErr
}

type stubBus struct {
	ch    *stubChannel
	fatal chan error
}

func (s *stubBus) Channel() (eventbus.Channel, error) { return s.ch, nil }
func (s *stubBus) Closed() bool                       { return false }
func (s *stubBus) NotifyFatal() <-chan error          { return s.fatal }
func (s *stubBus) Close() error                       { return nil }

func TestComponentHealthDegradesOnTransportFailure(t *testing.T) {
	bus := &stubBus{
		ch:    &stubChannel{consumeErr: &amqp.Error{Code: amqp.ChannelError, Reason: "channel closed"}},
		fatal: make(chan error, 1),
	}

	var cfg eventbus.Config
	cfg.ApplyDefaults()
	comp := eventbus.NewComponent(cfg, logger.NewDefault("test"))
	comp.SetDialer(func(context.Context, eventbus.Config) (eventbus.Bus, error) {
		return bus, nil
	})
	comp.AddConsumer(idleConsumer{})

	ctx := context.Background()
	if err := comp.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		if err := comp.Stop(ctx); err != nil {
			t.Errorf("Stop: %v", err)
		}
	}()

	var health string
	var message string
	for i := 0; i < 100; i++ {
		h := comp.Health(ctx)
		health, message = string(h.Status), h.Message
		if health == "unhealthy" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if health != "unhealthy" {
		t.Fatal("health never degraded after the consume loop died")
	}
	if !strings.Contains(message, "transport") {
		t.Errorf("health message = %q, want transport failure", message)
	}
}
