// Package saga wires the order/payment event loop onto the bus: order.created
// deliveries drive payment processing, payment results resolve orders. Both
// queues run with a prefetch of one and ack only after the handler returns,
// so a crash mid-handler redelivers instead of losing the event.
package saga

import (
	"context"
	"fmt"

	"orderflow/internal/bus"
	"orderflow/internal/events"
	"orderflow/internal/observability"
	"orderflow/internal/orders"
	"orderflow/internal/payments"
)

// Queue names follow the <consumer>.<topic> convention so each service owns
// its own durable queue on the shared exchange.
const (
	PaymentOrdersQueue = "payment-service.orders"
	OrderResultsQueue  = "order-service.payment-results"
)

// PaymentSubscription consumes order.created and charges the order.
func PaymentSubscription(svc *payments.Service, metrics *observability.Metrics) bus.Subscription {
	return bus.Subscription{
		Queue:    PaymentOrdersQueue,
		Bindings: []string{events.RouteOrderCreated},
		Prefetch: 1,
		Handler: func(ctx context.Context, d bus.Delivery) error {
			evt, err := events.DecodeOrderCreated(d.Body)
			if err != nil {
				metrics.AddEventDropped()
				return err
			}
			if err := svc.ProcessOrderEvent(ctx, evt); err != nil {
				return fmt.Errorf("process order %s: %w", evt.OrderID, err)
			}
			metrics.AddEventConsumed(d.RoutingKey)
			return nil
		},
	}
}

// OrderResultSubscription consumes payment.completed and payment.failed and
// resolves the matching order.
func OrderResultSubscription(svc *orders.Service, metrics *observability.Metrics) bus.Subscription {
	return bus.Subscription{
		Queue:    OrderResultsQueue,
		Bindings: []string{events.RoutePaymentCompleted, events.RoutePaymentFailed},
		Prefetch: 1,
		Handler: func(ctx context.Context, d bus.Delivery) error {
			res, err := events.DecodePaymentResult(d.Body)
			if err != nil {
				metrics.AddEventDropped()
				return err
			}
			if err := svc.HandlePaymentEvent(ctx, res, d.RoutingKey); err != nil {
				return err
			}
			metrics.AddEventConsumed(d.RoutingKey)
			return nil
		},
	}
}
