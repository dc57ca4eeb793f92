package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	apperrors "github.com/datarill/datarill/errors"
	"github.com/datarill/datarill/logger"
)

// BusConnection wraps an established AMQP connection.
type BusConnection struct {
	conn  *amqp.Connection
	cfg   Config
	log   *logger.Logger
	fatal chan error
}

var _ Bus = (*BusConnection)(nil)

// Connect dials the broker with a bounded retry loop. The delay between
// attempts is constant. When every attempt fails the returned error is a
// connection error the caller should treat as fatal.
func Connect(ctx context.Context, cfg Config) (*BusConnection, error) {
	log := logger.WithComponent("eventbus")
	delay := cfg.ParsedConnectDelay()

	var conn *amqp.Connection
	var err error
	for attempt := 1; attempt <= cfg.ConnectAttempts; attempt++ {
		conn, err = amqp.Dial(cfg.AMQPURL())
		if err == nil {
			log.Info("Connected to message broker", map[string]interface{}{
				"host":    cfg.Host,
				"attempt": attempt,
			})
			bc := &BusConnection{
				conn:  conn,
				cfg:   cfg,
				log:   log,
				fatal: make(chan error, 1),
			}
			bc.watchClose()
			return bc, nil
		}

		if !IsConnectionError(err) {
			// Bad credentials or a malformed URL will not heal with retries.
			log.Error("Broker rejected connection", map[string]interface{}{
				"error": err.Error(),
			})
			return nil, apperrors.ConnectionFailed("eventbus").WithCause(err)
		}

		log.Warn("Broker connection attempt failed", map[string]interface{}{
			"attempt":      attempt,
			"max_attempts": cfg.ConnectAttempts,
			"error":        err.Error(),
		})

		if attempt == cfg.ConnectAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, apperrors.ConnectionFailed("eventbus").WithCause(ctx.Err())
		case <-time.After(delay):
		}
	}

	return nil, apperrors.ConnectionFailed("eventbus").WithCause(err)
}

// watchClose forwards connection loss to the fatal channel. Loss after
// establishment is not retried; the process should exit and be restarted.
func (b *BusConnection) watchClose() {
	closeCh := b.conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		amqpErr, ok := <-closeCh
		if !ok || amqpErr == nil {
			// Deliberate shutdown.
			return
		}
		b.log.Error("Broker connection lost", map[string]interface{}{
			"code":   amqpErr.Code,
			"reason": amqpErr.Reason,
		})
		b.fatal <- apperrors.ConnectionFailed("eventbus").WithCause(amqpErr)
	}()
}

// Channel opens a new channel with the configured prefetch applied.
func (b *BusConnection) Channel() (Channel, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, apperrors.ConnectionFailed("eventbus").WithCause(err)
	}
	if err := ch.Qos(b.cfg.Prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, apperrors.ConnectionFailed("eventbus").WithCause(err)
	}
	return &BusChannel{ch: ch, log: b.log}, nil
}

// Closed reports whether the underlying connection has been lost.
func (b *BusConnection) Closed() bool { return b.conn.IsClosed() }

// NotifyFatal returns the channel signalling terminal connection loss.
func (b *BusConnection) NotifyFatal() <-chan error { return b.fatal }

// Close shuts the connection down.
func (b *BusConnection) Close() error { return b.conn.Close() }

// BusChannel implements Channel over one AMQP channel.
type BusChannel struct {
	ch  *amqp.Channel
	log *logger.Logger
}

var _ Channel = (*BusChannel)(nil)

// DeclareTopicExchange declares a durable topic exchange.
func (c *BusChannel) DeclareTopicExchange(name string) error {
	err := c.ch.ExchangeDeclare(name, "topic", true, false, false, false, nil)
	if err != nil {
		return apperrors.ConnectionFailed("eventbus").WithCause(err)
	}
	return nil
}

// DeclareQueue declares a queue and returns its actual name.
func (c *BusChannel) DeclareQueue(name string, exclusive bool) (string, error) {
	durable := !exclusive
	q, err := c.ch.QueueDeclare(name, durable, false, exclusive, false, nil)
	if err != nil {
		return "", apperrors.ConnectionFailed("eventbus").WithCause(err)
	}
	return q.Name, nil
}

// BindQueue binds a queue to an exchange with a topic pattern.
func (c *BusChannel) BindQueue(queue, exchange, pattern string) error {
	if err := c.ch.QueueBind(queue, pattern, exchange, false, nil); err != nil {
		return apperrors.ConnectionFailed("eventbus").WithCause(err)
	}
	return nil
}

// Consume delivers messages from queue to handler until ctx is cancelled or
// the channel closes. Acknowledgement follows the handler result: nil acks,
// error nacks with requeue.
func (c *BusChannel) Consume(ctx context.Context, queue string, handler Handler) error {
	deliveries, err := c.ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return apperrors.ConnectionFailed("eventbus").WithCause(err)
	}

	c.log.Info("Consuming", map[string]interface{}{logger.FieldQueue: queue})

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return apperrors.ConnectionFailed("eventbus")
			}
			msg := Message{
				Topic:       d.RoutingKey,
				Body:        d.Body,
				MessageID:   d.MessageId,
				Redelivered: d.Redelivered,
			}
			if err := handler(ctx, msg); err != nil {
				c.log.Warn("Handler failed, requeueing message", map[string]interface{}{
					logger.FieldQueue: queue,
					logger.FieldTopic: msg.Topic,
					logger.FieldError: err.Error(),
				})
				if nackErr := d.Nack(false, true); nackErr != nil {
					return apperrors.ConnectionFailed("eventbus").WithCause(nackErr)
				}
				continue
			}
			if ackErr := d.Ack(false); ackErr != nil {
				return apperrors.ConnectionFailed("eventbus").WithCause(ackErr)
			}
		}
	}
}

// Publish JSON-serializes payload and submits it to the exchange. A nil
// error means the client buffered the message; there is no publisher
// confirmation.
func (c *BusChannel) Publish(ctx context.Context, exchange, topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return apperrors.Validation("payload is not serializable").WithCause(err)
	}
	err = c.ch.PublishWithContext(ctx, exchange, topic, false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   uuid.NewString(),
		Timestamp:   time.Now(),
		Body:        body,
	})
	if err != nil {
		return apperrors.ConnectionFailed("eventbus").WithCause(err)
	}
	return nil
}

// Close releases the channel.
func (c *BusChannel) Close() error { return c.ch.Close() }
