// Package orders owns the order aggregate: its state machine, persistence
// contract, and the saga events it publishes and consumes.
package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"orderflow/internal/events"
	"orderflow/internal/fault"
)

// Status is the order lifecycle state. PENDING is the only non-terminal
// status: PAID, PAYMENT_FAILED, and CANCELLED accept no further transitions.
type Status string

const (
	StatusPending       Status = "PENDING"
	StatusPaid          Status = "PAID"
	StatusPaymentFailed Status = "PAYMENT_FAILED"
	StatusCancelled     Status = "CANCELLED"
)

// Terminal reports whether no further transition is permitted.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusPaymentFailed || s == StatusCancelled
}

// Item is one ordered line item.
type Item struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name,omitempty"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
}

// Order is the aggregate record. Total is always recomputed from Items at
// creation and never independently mutated.
type Order struct {
	ID        string        `json:"id"`
	UserID    events.UserID `json:"userId"`
	Items     []Item        `json:"items"`
	Total     float64       `json:"total"`
	Status    Status        `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// ListFilter narrows List results. Zero Limit defaults to 20.
type ListFilter struct {
	UserID string
	Status string
	Limit  int
	Offset int
}

// Store abstracts order persistence. Orders are never deleted.
type Store interface {
	Insert(ctx context.Context, o Order) error
	// Get returns the order or an error wrapping fault.ErrNotFound.
	Get(ctx context.Context, id string) (Order, error)
	List(ctx context.Context, f ListFilter) ([]Order, error)
	// TransitionFromPending atomically sets the status only while the order
	// is still PENDING and reports whether a row changed. Zero rows means
	// the order is absent or already resolved, never an error.
	TransitionFromPending(ctx context.Context, id string, to Status, at time.Time) (bool, error)
}

// Publisher publishes saga events for this aggregate.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// StatusNotifier receives status changes for non-saga consumers such as the
// latest-status cache and the realtime feed. Notifier failures are logged
// and never block the aggregate.
type StatusNotifier interface {
	NotifyStatus(ctx context.Context, orderID, status string, at time.Time) error
}

// Service coordinates order state with the payment saga.
type Service struct {
	store    Store
	pub      Publisher
	notifier StatusNotifier
	newID    func() string
	now      func() time.Time
	log      *slog.Logger
}

// NewService constructs the order manager. notifier may be nil.
func NewService(store Store, pub Publisher, notifier StatusNotifier, newID func() string, now func() time.Time, log *slog.Logger) *Service {
	return &Service{
		store:    store,
		pub:      pub,
		notifier: notifier,
		newID:    newID,
		now:      now,
		log:      log,
	}
}

// Create validates the request, persists the order as PENDING, and publishes
// order.created. The publish is best-effort: the order record's durability
// does not depend on bus availability, but a dropped event is always logged
// because no compensating retry exists.
func (s *Service) Create(ctx context.Context, userID events.UserID, items []Item) (Order, error) {
	if userID == "" {
		return Order{}, fault.Validationf("userId is required")
	}
	if len(items) == 0 {
		return Order{}, fault.Validationf("a non-empty items array is required")
	}

	total := 0.0
	for i, item := range items {
		if item.ProductID == "" {
			return Order{}, fault.Validationf("items[%d]: productId is required", i)
		}
		if item.Price < 0 {
			return Order{}, fault.Validationf("items[%d]: price must be >= 0", i)
		}
		if item.Quantity <= 0 {
			return Order{}, fault.Validationf("items[%d]: quantity must be > 0", i)
		}
		total += item.Price * float64(item.Quantity)
	}

	now := s.now()
	order := Order{
		ID:        s.newID(),
		UserID:    userID,
		Items:     items,
		Total:     total,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Insert(ctx, order); err != nil {
		return Order{}, fmt.Errorf("insert order: %w", err)
	}

	// Notify before publishing: on an in-process bus the publish runs the
	// whole saga synchronously, and the status feed must never see PENDING
	// after a terminal status.
	s.notify(ctx, order.ID, StatusPending, now)

	evt := events.OrderCreated{
		OrderID:   order.ID,
		UserID:    order.UserID,
		Items:     wireItems(items),
		Total:     order.Total,
		CreatedAt: order.CreatedAt,
	}
	if err := s.pub.Publish(ctx, events.RouteOrderCreated, evt); err != nil {
		s.log.Error("order.created event dropped", "order_id", order.ID, "error", err)
	}

	s.log.Info("order created", "order_id", order.ID, "user_id", order.UserID, "total", order.Total)
	return order, nil
}

// Get returns a single order.
func (s *Service) Get(ctx context.Context, id string) (Order, error) {
	return s.store.Get(ctx, id)
}

// List returns orders matching the filter, newest first.
func (s *Service) List(ctx context.Context, f ListFilter) ([]Order, error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	return s.store.List(ctx, f)
}

// Cancel transitions a still-PENDING order to CANCELLED. A missing order
// fails with fault.ErrNotFound; an already-resolved one with
// fault.ErrConflict. State is never changed in either failure case.
func (s *Service) Cancel(ctx context.Context, id string) (Order, error) {
	now := s.now()
	changed, err := s.store.TransitionFromPending(ctx, id, StatusCancelled, now)
	if err != nil {
		return Order{}, fmt.Errorf("cancel order %s: %w", id, err)
	}
	if !changed {
		current, getErr := s.store.Get(ctx, id)
		if getErr != nil {
			if errors.Is(getErr, fault.ErrNotFound) {
				return Order{}, getErr
			}
			return Order{}, fmt.Errorf("cancel order %s: %w", id, getErr)
		}
		return Order{}, fault.Conflictf("order %s cannot be cancelled in status %s", id, current.Status)
	}

	s.notify(ctx, id, StatusCancelled, now)
	if err := s.pub.Publish(ctx, events.RouteOrderCancelled, events.OrderCancelled{OrderID: id}); err != nil {
		s.log.Error("order.cancelled event dropped", "order_id", id, "error", err)
	}

	s.log.Info("order cancelled", "order_id", id)
	return s.store.Get(ctx, id)
}

// HandlePaymentEvent resolves the saga for one payment result. The first
// terminal transition wins: a late or contradictory payment event targeting
// an already-resolved order is a logged no-op. On a successful transition an
// order.<status> event is published for downstream consumers.
func (s *Service) HandlePaymentEvent(ctx context.Context, res events.PaymentResult, routingKey string) error {
	var target Status
	switch routingKey {
	case events.RoutePaymentCompleted:
		target = StatusPaid
	case events.RoutePaymentFailed:
		target = StatusPaymentFailed
	default:
		return fault.Malformedf("unexpected routing key %q", routingKey)
	}
	if res.OrderID == "" {
		return fault.Malformedf("payment result without orderId")
	}

	now := s.now()
	changed, err := s.store.TransitionFromPending(ctx, res.OrderID, target, now)
	if err != nil {
		return fmt.Errorf("resolve order %s: %w", res.OrderID, err)
	}
	if !changed {
		s.log.Info("payment event for already-resolved order ignored",
			"order_id", res.OrderID, "routing_key", routingKey)
		return nil
	}

	s.notify(ctx, res.OrderID, target, now)

	statusEvt := events.OrderStatusChanged{
		OrderID:   res.OrderID,
		Status:    string(target),
		UpdatedAt: now,
	}
	if err := s.pub.Publish(ctx, events.RouteOrderStatus(string(target)), statusEvt); err != nil {
		s.log.Error("order status event dropped", "order_id", res.OrderID, "status", target, "error", err)
	}

	s.log.Info("order resolved", "order_id", res.OrderID, "status", target)
	return nil
}

func (s *Service) notify(ctx context.Context, orderID string, status Status, at time.Time) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyStatus(ctx, orderID, string(status), at); err != nil {
		s.log.Warn("status notification failed", "order_id", orderID, "status", status, "error", err)
	}
}

func wireItems(items []Item) []events.Item {
	out := make([]events.Item, len(items))
	for i, item := range items {
		out[i] = events.Item{
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     item.Price,
			Quantity:  item.Quantity,
		}
	}
	return out
}
