// Package payments owns the payment aggregate. Its one hard rule: for a
// given idempotency key at most one payment row is ever created, and replays
// never re-run the processing decision or re-publish completion events.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"orderflow/internal/events"
	"orderflow/internal/fault"
)

// Status is the payment lifecycle state. PENDING is transient and never
// observed externally: creation and resolution happen in one atomic insert.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Defaults applied when a request omits the field.
const (
	DefaultCurrency = "USD"
	DefaultMethod   = "credit_card"
)

// DefaultCeiling is the amount at or above which a charge is declined.
const DefaultCeiling = 10000.0

// ErrDuplicateKey signals an insert raced another row holding the same
// idempotency key. Store implementations translate their uniqueness
// violations to it.
var ErrDuplicateKey = errors.New("idempotency key already used")

// Payment is the aggregate record, immutable once in a terminal status.
type Payment struct {
	ID             string        `json:"id"`
	OrderID        string        `json:"orderId"`
	IdempotencyKey string        `json:"-"`
	UserID         events.UserID `json:"userId,omitempty"`
	Amount         float64       `json:"amount"`
	Currency       string        `json:"currency"`
	Status         Status        `json:"status"`
	Method         string        `json:"method"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// ListFilter narrows List results. Zero Limit defaults to 20.
type ListFilter struct {
	OrderID string
	Limit   int
	Offset  int
}

// Store abstracts payment persistence. The uniqueness constraint on the
// idempotency key is the sole concurrency-control primitive protecting
// against double-processing.
type Store interface {
	// FindByIdempotencyKey reports whether a payment already holds the key.
	FindByIdempotencyKey(ctx context.Context, key string) (Payment, bool, error)
	// Insert persists p in one atomic operation keyed uniquely on its
	// idempotency key, returning ErrDuplicateKey if another row won the race.
	Insert(ctx context.Context, p Payment) error
	// Get returns the payment or an error wrapping fault.ErrNotFound.
	Get(ctx context.Context, id string) (Payment, error)
	List(ctx context.Context, f ListFilter) ([]Payment, error)
}

// Publisher publishes saga events for this aggregate.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// Decider resolves the terminal status for a charge amount. It stands in
// for a real payment gateway call and must be deterministic.
type Decider func(amount float64) Status

// CeilingDecider completes charges below the ceiling and fails the rest.
func CeilingDecider(ceiling float64) Decider {
	return func(amount float64) Status {
		if amount < ceiling {
			return StatusCompleted
		}
		return StatusFailed
	}
}

// CreateRequest is an explicit client-invoked payment.
type CreateRequest struct {
	OrderID        string
	Amount         float64
	Currency       string
	Method         string
	IdempotencyKey string
}

// Service processes payments with idempotent, at-most-once effects per key.
type Service struct {
	store  Store
	pub    Publisher
	decide Decider
	newID  func() string
	now    func() time.Time
	log    *slog.Logger
}

// NewService constructs the payment manager.
func NewService(store Store, pub Publisher, decide Decider, newID func() string, now func() time.Time, log *slog.Logger) *Service {
	return &Service{
		store:  store,
		pub:    pub,
		decide: decide,
		newID:  newID,
		now:    now,
		log:    log,
	}
}

// ProcessOrderEvent is the saga-triggered path for an order.created event.
// The idempotency key is the order identifier, so broker redelivery can
// never double-charge: a key hit (or a lost insert race) is a logged no-op
// with no second row and no second completion event.
func (s *Service) ProcessOrderEvent(ctx context.Context, evt events.OrderCreated) error {
	if evt.OrderID == "" {
		return fault.Malformedf("order.created without orderId")
	}
	key := evt.OrderID

	existing, found, err := s.store.FindByIdempotencyKey(ctx, key)
	if err != nil {
		return fmt.Errorf("idempotency lookup for order %s: %w", evt.OrderID, err)
	}
	if found {
		s.log.Info("duplicate order event ignored", "order_id", evt.OrderID, "payment_id", existing.ID)
		return nil
	}

	now := s.now()
	payment := Payment{
		ID:             s.newID(),
		OrderID:        evt.OrderID,
		IdempotencyKey: key,
		UserID:         evt.UserID,
		Amount:         evt.Total,
		Currency:       DefaultCurrency,
		Status:         s.decide(evt.Total),
		Method:         DefaultMethod,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Insert(ctx, payment); err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			s.log.Info("concurrent duplicate insert lost the race, ignoring", "order_id", evt.OrderID)
			return nil
		}
		return fmt.Errorf("insert payment for order %s: %w", evt.OrderID, err)
	}

	s.publishResult(ctx, payment)
	s.log.Info("payment processed", "payment_id", payment.ID, "order_id", evt.OrderID, "status", payment.Status, "amount", payment.Amount)
	return nil
}

// CreatePayment is the client-invoked path. A replayed idempotency key
// returns the existing record flagged as idempotent; a lost insert race
// surfaces as fault.ErrConflict.
func (s *Service) CreatePayment(ctx context.Context, req CreateRequest) (Payment, bool, error) {
	if req.OrderID == "" {
		return Payment{}, false, fault.Validationf("orderId is required")
	}
	if req.IdempotencyKey == "" {
		return Payment{}, false, fault.Validationf("idempotencyKey is required")
	}
	if req.Amount < 0 {
		return Payment{}, false, fault.Validationf("amount must be >= 0")
	}

	existing, found, err := s.store.FindByIdempotencyKey(ctx, req.IdempotencyKey)
	if err != nil {
		return Payment{}, false, fmt.Errorf("idempotency lookup: %w", err)
	}
	if found {
		s.log.Info("idempotent replay", "idempotency_key", req.IdempotencyKey, "payment_id", existing.ID)
		return existing, true, nil
	}

	currency := req.Currency
	if currency == "" {
		currency = DefaultCurrency
	}
	method := req.Method
	if method == "" {
		method = DefaultMethod
	}

	now := s.now()
	payment := Payment{
		ID:             s.newID(),
		OrderID:        req.OrderID,
		IdempotencyKey: req.IdempotencyKey,
		Amount:         req.Amount,
		Currency:       currency,
		Status:         s.decide(req.Amount),
		Method:         method,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Insert(ctx, payment); err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			return Payment{}, false, fault.Conflictf("idempotency key %s already used", req.IdempotencyKey)
		}
		return Payment{}, false, fmt.Errorf("insert payment: %w", err)
	}

	s.publishResult(ctx, payment)
	s.log.Info("payment created", "payment_id", payment.ID, "order_id", payment.OrderID, "status", payment.Status)
	return payment, false, nil
}

// Get returns a single payment.
func (s *Service) Get(ctx context.Context, id string) (Payment, error) {
	return s.store.Get(ctx, id)
}

// List returns payments matching the filter, newest first.
func (s *Service) List(ctx context.Context, f ListFilter) ([]Payment, error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	return s.store.List(ctx, f)
}

// publishResult emits payment.completed or payment.failed. The publish is
// best-effort: the payment row is already durable and a replay will not
// re-publish, so a failure here is logged as a dropped event rather than
// failing the operation.
func (s *Service) publishResult(ctx context.Context, p Payment) {
	route := events.RoutePaymentCompleted
	if p.Status == StatusFailed {
		route = events.RoutePaymentFailed
	}
	result := events.PaymentResult{
		PaymentID:   p.ID,
		OrderID:     p.OrderID,
		UserID:      p.UserID,
		Amount:      p.Amount,
		Status:      string(p.Status),
		ProcessedAt: p.CreatedAt,
	}
	if err := s.pub.Publish(ctx, route, result); err != nil {
		s.log.Error("payment event dropped", "payment_id", p.ID, "order_id", p.OrderID, "routing_key", route, "error", err)
	}
}
