package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"orderflow/internal/fault"
)

// AMQPBus connects the saga to a RabbitMQ topic exchange. Publishers and
// consumers each get their own channel off the shared connection, so no
// channel handle is shared between the consume loop and publish calls.
type AMQPBus struct {
	conn     *amqp.Connection
	exchange string
	log      *slog.Logger
}

// DialAMQP connects to the broker and declares the shared topic exchange
// plus its dead-letter companion.
func DialAMQP(url, exchange string, log *slog.Logger) (*AMQPBus, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fault.Unavailablef("amqp dial: %v", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fault.Unavailablef("amqp channel: %v", err)
	}
	defer ch.Close()

	if err := declareExchanges(ch, exchange); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &AMQPBus{conn: conn, exchange: exchange, log: log}, nil
}

func declareExchanges(ch *amqp.Channel, exchange string) error {
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fault.Unavailablef("declare exchange %s: %v", exchange, err)
	}
	if err := ch.ExchangeDeclare(exchange+".dlx", "topic", true, false, false, false, nil); err != nil {
		return fault.Unavailablef("declare dead-letter exchange: %v", err)
	}
	return nil
}

// Close releases the underlying connection and all channels derived from it.
func (b *AMQPBus) Close() error {
	return b.conn.Close()
}

// Ready reports whether the broker connection is still open.
func (b *AMQPBus) Ready(context.Context) error {
	if b.conn.IsClosed() {
		return fault.Unavailablef("amqp connection closed")
	}
	return nil
}

// Publisher opens a dedicated channel for publishing.
func (b *AMQPBus) Publisher() (*AMQPPublisher, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fault.Unavailablef("amqp publisher channel: %v", err)
	}
	return &AMQPPublisher{ch: ch, exchange: b.exchange}, nil
}

// AMQPPublisher publishes persistent JSON messages on its own channel.
// Safe for concurrent use.
type AMQPPublisher struct {
	mu       sync.Mutex
	ch       *amqp.Channel
	exchange string
}

func (p *AMQPPublisher) Publish(ctx context.Context, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", routingKey, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fault.Unavailablef("publish %s: %v", routingKey, err)
	}
	return nil
}

// Close releases the publisher channel.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.Close()
}

// Consume declares the subscription's durable queue, binds it, and runs the
// handler loop until the context ends. Failed messages dead-letter to
// <exchange>.dlx under their original routing key.
func (b *AMQPBus) Consume(ctx context.Context, sub Subscription) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fault.Unavailablef("amqp consumer channel: %v", err)
	}
	defer ch.Close()

	queue, err := ch.QueueDeclare(sub.Queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange": b.exchange + ".dlx",
	})
	if err != nil {
		return fault.Unavailablef("declare queue %s: %v", sub.Queue, err)
	}
	for _, key := range sub.Bindings {
		if err := ch.QueueBind(queue.Name, key, b.exchange, false, nil); err != nil {
			return fault.Unavailablef("bind %s to %s: %v", queue.Name, key, err)
		}
	}

	prefetch := sub.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fault.Unavailablef("set prefetch on %s: %v", sub.Queue, err)
	}

	deliveries, err := ch.Consume(queue.Name, "", false, false, false, false, nil)
	if err != nil {
		return fault.Unavailablef("consume %s: %v", sub.Queue, err)
	}

	b.log.Info("consuming", "queue", sub.Queue, "bindings", sub.Bindings, "prefetch", prefetch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fault.Unavailablef("delivery channel for %s closed", sub.Queue)
			}
			b.dispatch(ctx, sub, d)
		}
	}
}

func (b *AMQPBus) dispatch(ctx context.Context, sub Subscription, d amqp.Delivery) {
	err := sub.Handler(ctx, Delivery{
		RoutingKey:  d.RoutingKey,
		Body:        d.Body,
		Redelivered: d.Redelivered,
	})

	switch Classify(err, d.Redelivered) {
	case Ack:
		if err != nil {
			b.log.Warn("dropping malformed message", "queue", sub.Queue, "routing_key", d.RoutingKey, "error", err)
		}
		if ackErr := d.Ack(false); ackErr != nil {
			b.log.Error("ack failed", "queue", sub.Queue, "error", ackErr)
		}
	case NackRequeue:
		b.log.Warn("requeueing message after failure", "queue", sub.Queue, "routing_key", d.RoutingKey, "error", err)
		if nackErr := d.Nack(false, true); nackErr != nil {
			b.log.Error("nack failed", "queue", sub.Queue, "error", nackErr)
		}
	case NackDrop:
		b.log.Error("dead-lettering message after redelivery failure", "queue", sub.Queue, "routing_key", d.RoutingKey, "error", err)
		if nackErr := d.Nack(false, false); nackErr != nil {
			b.log.Error("nack failed", "queue", sub.Queue, "error", nackErr)
		}
	}
}
