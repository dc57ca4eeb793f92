package eventbus

import (
	"errors"
	"fmt"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"dial refused", errors.New("dial tcp 127.0.0.1:5672: connection refused"), true},
		{"closed client", amqp.ErrClosed, true},
		{"forced close", &amqp.Error{Code: amqp.ConnectionForced, Reason: "shutdown"}, true},
		{"wrapped", fmt.Errorf("publish: %w", amqp.ErrClosed), true},
		{"ordinary error", errors.New("payload too large"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsConnectionError(tt.err); got != tt.want {
				t.Errorf("IsConnectionError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
