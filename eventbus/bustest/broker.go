// Package bustest provides an in-memory topic broker implementing the
// eventbus interfaces. It reproduces topic wildcard routing, competing
// consumers, and ack/nack redelivery so message flows can be tested without
// a running broker.
package bustest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/datarill/datarill/eventbus"
)

const queueCapacity = 1024

// Broker is an in-memory message broker. It implements eventbus.Bus; the
// channels it hands out implement eventbus.Channel.
type Broker struct {
	mu        sync.Mutex
	exchanges map[string][]binding
	queues    map[string]*queue
	closed    bool
	fatal     chan error
	nameSeq   int
}

type binding struct {
	queue   string
	pattern string
}

type queue struct {
	name       string
	deliveries chan eventbus.Message
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{
		exchanges: make(map[string][]binding),
		queues:    make(map[string]*queue),
		fatal:     make(chan error, 1),
	}
}

// Dialer returns an eventbus.Dialer that always yields this broker,
// for injection into an eventbus.Component.
func (b *Broker) Dialer() eventbus.Dialer {
	return func(context.Context, eventbus.Config) (eventbus.Bus, error) {
		return b, nil
	}
}

// Channel opens a channel backed by this broker.
func (b *Broker) Channel() (eventbus.Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("bustest: broker closed")
	}
	return &channel{broker: b}, nil
}

// Closed reports whether Close has been called.
func (b *Broker) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// NotifyFatal returns the fatal error channel. The in-memory broker never
// fails on its own; tests may inject an error with FailWith.
func (b *Broker) NotifyFatal() <-chan error { return b.fatal }

// FailWith simulates terminal connection loss.
func (b *Broker) FailWith(err error) {
	b.fatal <- err
}

// Close marks the broker closed.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// QueueLength reports the number of undelivered messages in a queue.
func (b *Broker) QueueLength(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		return 0
	}
	return len(q.deliveries)
}

func (b *Broker) route(ctx context.Context, exchange, topic string, body []byte) error {
	b.mu.Lock()
	bindings := b.exchanges[exchange]
	matched := make(map[string]*queue)
	for _, bd := range bindings {
		if TopicMatches(bd.pattern, topic) {
			if q, ok := b.queues[bd.queue]; ok {
				matched[bd.queue] = q
			}
		}
	}
	b.mu.Unlock()

	msg := eventbus.Message{
		Topic:     topic,
		Body:      body,
		MessageID: uuid.NewString(),
	}
	// One copy per queue regardless of how many bindings matched.
	for _, q := range matched {
		select {
		case q.deliveries <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

type channel struct {
	broker *Broker
	closed bool
	mu     sync.Mutex
}

var _ eventbus.Channel = (*channel)(nil)

func (c *channel) DeclareTopicExchange(name string) error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	if _, ok := c.broker.exchanges[name]; !ok {
		c.broker.exchanges[name] = nil
	}
	return nil
}

func (c *channel) DeclareQueue(name string, _ bool) (string, error) {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	if name == "" {
		c.broker.nameSeq++
		name = fmt.Sprintf("amq.gen-%d", c.broker.nameSeq)
	}
	if _, ok := c.broker.queues[name]; !ok {
		c.broker.queues[name] = &queue{
			name:       name,
			deliveries: make(chan eventbus.Message, queueCapacity),
		}
	}
	return name, nil
}

func (c *channel) BindQueue(queueName, exchange, pattern string) error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	if _, ok := c.broker.queues[queueName]; !ok {
		return fmt.Errorf("bustest: unknown queue %q", queueName)
	}
	for _, bd := range c.broker.exchanges[exchange] {
		if bd.queue == queueName && bd.pattern == pattern {
			return nil
		}
	}
	c.broker.exchanges[exchange] = append(c.broker.exchanges[exchange],
		binding{queue: queueName, pattern: pattern})
	return nil
}

// Consume pulls messages from the queue until ctx is cancelled. Competing
// consumers on the same queue each receive a given message exactly once.
// A handler error requeues the message with Redelivered set.
func (c *channel) Consume(ctx context.Context, queueName string, handler eventbus.Handler) error {
	c.broker.mu.Lock()
	q, ok := c.broker.queues[queueName]
	c.broker.mu.Unlock()
	if !ok {
		return fmt.Errorf("bustest: unknown queue %q", queueName)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-q.deliveries:
			if err := handler(ctx, msg); err != nil {
				msg.Redelivered = true
				select {
				case q.deliveries <- msg:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

func (c *channel) Publish(ctx context.Context, exchange, topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.broker.route(ctx, exchange, topic, body)
}

func (c *channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// TopicMatches reports whether a routing key matches a binding pattern.
// "*" matches exactly one word, "#" matches zero or more words, words are
// separated by dots.
func TopicMatches(pattern, topic string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(topic, "."))
}

func matchWords(pattern, topic []string) bool {
	if len(pattern) == 0 {
		return len(topic) == 0
	}
	switch pattern[0] {
	case "#":
		if matchWords(pattern[1:], topic) {
			return true
		}
		if len(topic) == 0 {
			return false
		}
		return matchWords(pattern, topic[1:])
	case "*":
		return len(topic) > 0 && matchWords(pattern[1:], topic[1:])
	default:
		return len(topic) > 0 && pattern[0] == topic[0] && matchWords(pattern[1:], topic[1:])
	}
}
