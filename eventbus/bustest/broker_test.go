package bustest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/datarill/datarill/eventbus"
)

func TestTopicMatches(t *testing.T) {
	tests := []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"pipeline.execution.success", "pipeline.execution.success", true},
		{"pipeline.execution.success", "pipeline.execution.error", false},
		{"pipeline.execution.*", "pipeline.execution.success", true},
		{"pipeline.execution.*", "pipeline.execution.error", true},
		{"pipeline.execution.*", "pipeline.execution", false},
		{"pipeline.execution.*", "pipeline.execution.success.extra", false},
		{"pipeline.#", "pipeline.execution.success", true},
		{"pipeline.#", "pipeline", true},
		{"#", "anything.at.all", true},
		{"*.execution.*", "pipeline.execution.error", true},
		{"*.execution.*", "datasource.ingest.error", false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_vs_%s", tt.pattern, tt.topic), func(t *testing.T) {
			if got := TopicMatches(tt.pattern, tt.topic); got != tt.want {
				t.Errorf("TopicMatches(%q, %q) = %v, want %v", tt.pattern, tt.topic, got, tt.want)
			}
		})
	}
}

func setupQueue(t *testing.T, b *Broker, queueName, pattern string) eventbus.Channel {
	t.Helper()
	ch, err := b.Channel()
	if err != nil {
		t.Fatalf("Channel: %v", err)
	}
	if err := ch.DeclareTopicExchange("test"); err != nil {
		t.Fatalf("DeclareTopicExchange: %v", err)
	}
	if _, err := ch.DeclareQueue(queueName, false); err != nil {
		t.Fatalf("DeclareQueue: %v", err)
	}
	if err := ch.BindQueue(queueName, "test", pattern); err != nil {
		t.Fatalf("BindQueue: %v", err)
	}
	return ch
}

func TestPublishRoundTrip(t *testing.T) {
	b := NewBroker()
	ch := setupQueue(t, b, "q1", "a.b.*")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan eventbus.Message, 1)
	go func() {
		_ = ch.Consume(ctx, "q1", func(_ context.Context, msg eventbus.Message) error {
			received <- msg
			return nil
		})
	}()

	payload := map[string]any{"value": 7}
	if err := ch.Publish(ctx, "test", "a.b.c", payload); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-received:
		if msg.Topic != "a.b.c" {
			t.Errorf("topic = %q", msg.Topic)
		}
		var decoded map[string]any
		if err := json.Unmarshal(msg.Body, &decoded); err != nil {
			t.Fatalf("body not JSON: %v", err)
		}
		if decoded["value"] != float64(7) {
			t.Errorf("payload = %v", decoded)
		}
		if msg.MessageID == "" {
			t.Error("message id not set")
		}
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestCompetingConsumersReceiveEachMessageOnce(t *testing.T) {
	b := NewBroker()
	ch := setupQueue(t, b, "shared", "work.#")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const total = 50
	var mu sync.Mutex
	seen := make(map[string]int)
	done := make(chan struct{})

	handler := func(_ context.Context, msg eventbus.Message) error {
		mu.Lock()
		seen[string(msg.Body)]++
		if len(seen) == total {
			close(done)
		}
		mu.Unlock()
		return nil
	}

	for i := 0; i < 3; i++ {
		consumerCh, err := b.Channel()
		if err != nil {
			t.Fatalf("Channel: %v", err)
		}
		go func() { _ = consumerCh.Consume(ctx, "shared", handler) }()
	}

	for i := 0; i < total; i++ {
		if err := ch.Publish(ctx, "test", "work.item", i); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("only %d/%d distinct messages seen", len(seen), total)
	}

	// Allow in-flight duplicates to surface before asserting.
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	for body, count := range seen {
		if count != 1 {
			t.Errorf("message %s delivered %d times", body, count)
		}
	}
}

func TestNackRedelivers(t *testing.T) {
	b := NewBroker()
	ch := setupQueue(t, b, "retryq", "job.*")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	attempts := make(chan bool, 4)
	var failedOnce bool
	go func() {
		_ = ch.Consume(ctx, "retryq", func(_ context.Context, msg eventbus.Message) error {
			attempts <- msg.Redelivered
			if !failedOnce {
				failedOnce = true
				return fmt.Errorf("transient failure")
			}
			return nil
		})
	}()

	if err := ch.Publish(ctx, "test", "job.run", "payload"); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	first := <-attempts
	if first {
		t.Error("first delivery marked redelivered")
	}
	select {
	case second := <-attempts:
		if !second {
			t.Error("redelivery not marked")
		}
	case <-time.After(time.Second):
		t.Fatal("nacked message was not redelivered")
	}
}

func TestFanOutToMultipleQueues(t *testing.T) {
	b := NewBroker()
	ch1 := setupQueue(t, b, "qa", "evt.*")
	ch2 := setupQueue(t, b, "qb", "evt.#")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 2)
	go func() {
		_ = ch1.Consume(ctx, "qa", func(_ context.Context, _ eventbus.Message) error {
			got <- "qa"
			return nil
		})
	}()
	go func() {
		_ = ch2.Consume(ctx, "qb", func(_ context.Context, _ eventbus.Message) error {
			got <- "qb"
			return nil
		})
	}()

	if err := ch1.Publish(ctx, "test", "evt.fired", nil); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	queues := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case q := <-got:
			queues[q] = true
		case <-time.After(time.Second):
			t.Fatalf("only %d queues received the message", len(queues))
		}
	}
	if !queues["qa"] || !queues["qb"] {
		t.Errorf("delivery incomplete: %v", queues)
	}
}
