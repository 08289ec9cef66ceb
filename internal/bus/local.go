package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// LocalBus is an in-process topic bus. It lets the whole saga run inside a
// single binary without a broker, and doubles as the test double for the
// AMQP adapter. Delivery is synchronous in the publisher's goroutine and
// mimics at-least-once semantics: a failed handler gets the message once
// more with the redelivered flag set, then the message is dropped.
type LocalBus struct {
	mu   sync.Mutex
	subs []Subscription
	log  *slog.Logger
}

// NewLocalBus constructs an empty in-process bus.
func NewLocalBus(log *slog.Logger) *LocalBus {
	return &LocalBus{log: log}
}

// Subscribe registers a subscription immediately.
func (b *LocalBus) Subscribe(sub Subscription) {
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
}

// Consume registers the subscription and blocks until the context ends, so
// it can stand in for AMQPBus.Consume in the server's consumer goroutines.
func (b *LocalBus) Consume(ctx context.Context, sub Subscription) error {
	b.Subscribe(sub)
	<-ctx.Done()
	return nil
}

// Publish delivers the payload to every matching subscription.
func (b *LocalBus) Publish(ctx context.Context, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", routingKey, err)
	}

	b.mu.Lock()
	subs := make([]Subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, sub := range subs {
		if !matchesAny(sub.Bindings, routingKey) {
			continue
		}
		b.deliver(ctx, sub, Delivery{RoutingKey: routingKey, Body: body})
	}
	return nil
}

func (b *LocalBus) deliver(ctx context.Context, sub Subscription, d Delivery) {
	err := sub.Handler(ctx, d)
	switch Classify(err, d.Redelivered) {
	case Ack:
		if err != nil {
			b.log.Warn("dropping malformed message", "queue", sub.Queue, "routing_key", d.RoutingKey, "error", err)
		}
	case NackRequeue:
		b.log.Warn("redelivering message after failure", "queue", sub.Queue, "routing_key", d.RoutingKey, "error", err)
		d.Redelivered = true
		b.deliver(ctx, sub, d)
	case NackDrop:
		b.log.Error("dropping message after redelivery failure", "queue", sub.Queue, "routing_key", d.RoutingKey, "error", err)
	}
}

func matchesAny(bindings []string, routingKey string) bool {
	for _, binding := range bindings {
		if matchTopic(binding, routingKey) {
			return true
		}
	}
	return false
}

// matchTopic implements AMQP-style topic matching where "*" stands for
// exactly one dot-separated word.
func matchTopic(pattern, key string) bool {
	if pattern == key {
		return true
	}
	pp := strings.Split(pattern, ".")
	kp := strings.Split(key, ".")
	if len(pp) != len(kp) {
		return false
	}
	for i := range pp {
		if pp[i] != "*" && pp[i] != kp[i] {
			return false
		}
	}
	return true
}
