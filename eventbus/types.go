package eventbus

import "context"

// Message is one delivery handed to a Handler.
type Message struct {
	// Topic is the routing key the message was published with.
	Topic string

	// Body is the raw JSON payload.
	Body []byte

	// MessageID identifies the message for logging and tracing.
	MessageID string

	// Redelivered is true when the broker re-dispatched the message after
	// a negative acknowledgement.
	Redelivered bool
}

// Handler processes one message. A nil return acknowledges the delivery;
// an error negatively acknowledges it with requeue, so delivery is
// at-least-once and handlers must tolerate duplicates.
type Handler func(ctx context.Context, msg Message) error

// Channel exposes the topology and messaging operations of one bus channel.
// Declarations are idempotent.
type Channel interface {
	// DeclareTopicExchange declares a durable topic exchange.
	DeclareTopicExchange(name string) error

	// DeclareQueue declares a queue. An empty name asks the broker for a
	// generated one; the actual name is returned. Exclusive queues are
	// deleted when the declaring connection closes.
	DeclareQueue(name string, exclusive bool) (string, error)

	// BindQueue binds a queue to an exchange with a topic pattern.
	// Patterns use AMQP wildcards: * matches one word, # matches zero or
	// more words.
	BindQueue(queue, exchange, pattern string) error

	// Consume delivers messages from queue to handler until ctx is
	// cancelled or the channel closes. It blocks.
	Consume(ctx context.Context, queue string, handler Handler) error

	// Publish JSON-serializes payload and submits it to the exchange with
	// the given routing key. A nil error means the client accepted the
	// message into its send buffer, not that the broker stored it.
	Publish(ctx context.Context, exchange, topic string, payload any) error

	// Close releases the channel.
	Close() error
}

// Bus is an established connection to the message broker.
type Bus interface {
	// Channel opens a new channel on the connection.
	Channel() (Channel, error)

	// Closed reports whether the underlying connection has been lost.
	Closed() bool

	// NotifyFatal returns a channel that receives the terminal error when
	// the established connection is lost. Connection loss after
	// establishment is fatal; the owning process should exit.
	NotifyFatal() <-chan error

	// Close shuts the connection down.
	Close() error
}

// Publisher is the narrow interface most producers need.
type Publisher interface {
	Publish(ctx context.Context, exchange, topic string, payload any) error
}
