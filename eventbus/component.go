package eventbus

import (
	"context"
	"sync"

	"github.com/datarill/datarill/component"
	"github.com/datarill/datarill/logger"
)

// Consumer is one message consumer managed by the Component. Setup declares
// the consumer's topology on the given channel and returns the queue to
// consume from.
type Consumer interface {
	Name() string
	Setup(ch Channel) (queue string, err error)
	Handle(ctx context.Context, msg Message) error
}

// Dialer establishes a Bus. Tests substitute an in-memory implementation.
type Dialer func(ctx context.Context, cfg Config) (Bus, error)

// Component wraps a bus connection and its consumers and implements
// component.Component.
type Component struct {
	cfg       Config
	log       *logger.Logger
	dial      Dialer
	bus       Bus
	consumers []Consumer
	channels  []Channel
	cancelFn  context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	running   bool

	// errMu guards consumeErr separately so a stopping consumer never
	// contends with Stop, which holds mu across wg.Wait.
	errMu      sync.Mutex
	consumeErr error
}

var _ component.Component = (*Component)(nil)

// NewComponent creates an event bus component for use with the registry.
func NewComponent(cfg Config, log *logger.Logger) *Component {
	return &Component{
		cfg: cfg,
		log: log.WithComponent("eventbus"),
		dial: func(ctx context.Context, cfg Config) (Bus, error) {
			return Connect(ctx, cfg)
		},
	}
}

// SetDialer overrides how the component establishes its connection.
// Must be called before Start.
func (c *Component) SetDialer(d Dialer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dial = d
}

// AddConsumer injects a consumer. Must be called before Start.
func (c *Component) AddConsumer(consumer Consumer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consumers = append(c.consumers, consumer)
}

// Bus returns the established connection, or nil before Start.
func (c *Component) Bus() Bus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bus
}

// Name returns the component name.
func (c *Component) Name() string { return "eventbus" }

// Start connects to the broker, sets up every consumer's topology, and
// begins consuming in background goroutines.
func (c *Component) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	bus, err := c.dial(ctx, c.cfg)
	if err != nil {
		return err
	}
	c.bus = bus

	c.errMu.Lock()
	c.consumeErr = nil
	c.errMu.Unlock()

	consumeCtx, cancel := context.WithCancel(context.Background())
	c.cancelFn = cancel

	// abort unwinds a partial start: stop the consume goroutines already
	// running, then release every handle opened so far.
	abort := func() {
		cancel()
		c.wg.Wait()
		for _, ch := range c.channels {
			_ = ch.Close()
		}
		c.channels = nil
		_ = bus.Close()
		c.bus = nil
	}

	for _, consumer := range c.consumers {
		ch, err := bus.Channel()
		if err != nil {
			abort()
			return err
		}
		queue, err := consumer.Setup(ch)
		if err != nil {
			_ = ch.Close()
			abort()
			return err
		}
		c.channels = append(c.channels, ch)

		consumer := consumer
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			err := ch.Consume(consumeCtx, queue, consumer.Handle)
			if err != nil && err != context.Canceled {
				if IsConnectionError(err) || IsChannelError(err) {
					// Transport failure: surface it through Health so the
					// /health endpoint flips before the fatal path fires.
					c.errMu.Lock()
					c.consumeErr = err
					c.errMu.Unlock()
				}
				c.log.Error("Consumer stopped with error", map[string]interface{}{
					"consumer":        consumer.Name(),
					logger.FieldQueue: queue,
					logger.FieldError: err.Error(),
				})
			}
		}()
	}

	c.running = true
	c.log.Info("Event bus component started", map[string]interface{}{
		"consumers": len(c.consumers),
	})
	return nil
}

// Stop cancels the consume loops and closes channels and connection.
func (c *Component) Stop(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}

	c.log.Info("Event bus component stopping")

	if c.cancelFn != nil {
		c.cancelFn()
	}
	c.wg.Wait()

	for _, ch := range c.channels {
		_ = ch.Close()
	}
	c.channels = nil

	if c.bus != nil {
		_ = c.bus.Close()
	}

	c.running = false
	return nil
}

// Health reports the connection state.
func (c *Component) Health(_ context.Context) component.Health {
	c.mu.Lock()
	running := c.running
	bus := c.bus
	c.mu.Unlock()

	if !running || bus == nil {
		return component.Health{
			Name:    c.Name(),
			Status:  component.StatusUnhealthy,
			Message: "event bus not started",
		}
	}
	if bus.Closed() {
		return component.Health{
			Name:    c.Name(),
			Status:  component.StatusUnhealthy,
			Message: "broker connection lost",
		}
	}

	c.errMu.Lock()
	consumeErr := c.consumeErr
	c.errMu.Unlock()
	if consumeErr != nil {
		return component.Health{
			Name:    c.Name(),
			Status:  component.StatusUnhealthy,
			Message: "consumer transport failure: " + consumeErr.Error(),
		}
	}

	return component.Health{Name: c.Name(), Status: component.StatusHealthy}
}
