// Package bus abstracts the topic-based event bus the saga runs on. Delivery
// is at-least-once: a handler may see the same message again after a partial
// failure, so every handler must be idempotent.
package bus

import (
	"context"
	"errors"

	"orderflow/internal/fault"
)

// Publisher publishes a JSON-serializable payload under a routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// Delivery is one message handed to a consumer handler.
type Delivery struct {
	RoutingKey  string
	Body        []byte
	Redelivered bool
}

// Handler processes one delivery. A nil return acknowledges the message.
// An error wrapping fault.ErrMalformedEvent acknowledges and drops it, so a
// poison message never loops. Any other error negatively acknowledges it:
// requeued on the first delivery, dead-lettered once redelivered.
type Handler func(ctx context.Context, d Delivery) error

// Subscription binds a durable queue to one or more routing keys.
type Subscription struct {
	Queue    string
	Bindings []string
	// Prefetch caps unacknowledged messages in flight on the queue.
	// Zero means the consumer default of one.
	Prefetch int
	Handler  Handler
}

// Consumer runs a subscription's handler loop until the context ends.
type Consumer interface {
	Consume(ctx context.Context, sub Subscription) error
}

// Outcome is the acknowledgment decision for a processed delivery.
type Outcome int

const (
	// Ack confirms the message as handled.
	Ack Outcome = iota
	// NackRequeue rejects the message and asks the bus to redeliver it.
	NackRequeue
	// NackDrop rejects the message without requeue, routing it to the
	// dead-letter exchange when one is configured.
	NackDrop
)

// Classify maps a handler result to an acknowledgment decision. Malformed
// events are acked so they cannot loop; other failures get exactly one
// redelivery before being dead-lettered.
func Classify(err error, redelivered bool) Outcome {
	switch {
	case err == nil:
		return Ack
	case errors.Is(err, fault.ErrMalformedEvent):
		return Ack
	case redelivered:
		return NackDrop
	default:
		return NackRequeue
	}
}
