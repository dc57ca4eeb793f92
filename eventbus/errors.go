package eventbus

import (
	"errors"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
)

// IsConnectionError checks if a bus error is a connection-level error.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) {
		// 3xx and connection-class 5xx codes indicate the connection is gone.
		switch amqpErr.Code {
		case amqp.ConnectionForced, amqp.InternalError, amqp.FrameError, amqp.ChannelError:
			return true
		}
	}
	if errors.Is(err, amqp.ErrClosed) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	connectionPatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"i/o timeout",
		"no route to host",
		"network is unreachable",
		"channel/connection is not open",
		"dial tcp",
		"eof",
	}
	for _, p := range connectionPatterns {
		if strings.Contains(errStr, p) {
			return true
		}
	}
	return false
}

// IsChannelError checks if an error is scoped to one channel rather than
// the connection.
func IsChannelError(err error) bool {
	if err == nil {
		return false
	}
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) {
		return !amqpErr.Recover && amqpErr.Code >= 400 && amqpErr.Code < 500
	}
	return false
}
