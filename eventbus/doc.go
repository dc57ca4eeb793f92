// Package eventbus provides AMQP connection and channel lifecycle management
// as a component.
//
// It wraps rabbitmq/amqp091-go with the project conventions: health checking,
// graceful shutdown, structured logging, and explicit acknowledgement
// semantics for at-least-once delivery.
//
// # Architecture
//
//   - Connect: bounded retry dial returning a Bus
//   - Channel: topic exchange declaration, queue binding, publish and consume
//   - Component: manages connection/consumer lifecycle (Start/Stop/Health)
//   - bustest: in-memory broker implementing the same interfaces for tests
//
// # Configuration
//
// All settings are provided via Config with ApplyDefaults()/Validate():
//
//	eventbus:
//	  host: "localhost"
//	  port: 5672
//	  connect_attempts: 10
//	  connect_delay: "3s"
package eventbus
