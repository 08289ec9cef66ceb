// Package events defines the saga event contract shared by the order and
// payment managers: routing keys, typed payloads per key, and boundary
// validation. Payloads are decoded and checked before they reach a manager,
// so malformed input surfaces as a typed rejection instead of a runtime
// failure inside a handler.
package events

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"orderflow/internal/fault"
)

// Routing keys published and consumed across the saga.
const (
	RouteOrderCreated     = "order.created"
	RouteOrderCancelled   = "order.cancelled"
	RoutePaymentCompleted = "payment.completed"
	RoutePaymentFailed    = "payment.failed"
)

// RouteOrderStatus returns the downstream routing key for an order status
// change, e.g. "order.paid" or "order.payment_failed".
func RouteOrderStatus(status string) string {
	return "order." + strings.ToLower(status)
}

// UserID accepts either a JSON string or a JSON number, since upstream
// clients send both shapes.
type UserID string

func (u *UserID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*u = UserID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*u = UserID(n.String())
	return nil
}

func (u UserID) String() string { return string(u) }

// ParseUserID normalizes a raw identifier, rejecting empty input.
func ParseUserID(raw string) (UserID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fault.Validationf("userId is required")
	}
	return UserID(raw), nil
}

// Item is one ordered line item as carried on the wire.
type Item struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name,omitempty"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
}

// OrderCreated is published by the order manager when a new order is
// persisted, and consumed by the payment manager.
type OrderCreated struct {
	OrderID   string    `json:"orderId"`
	UserID    UserID    `json:"userId"`
	Items     []Item    `json:"items"`
	Total     float64   `json:"total"`
	CreatedAt time.Time `json:"createdAt"`
}

// OrderCancelled is published when a still-pending order is cancelled.
type OrderCancelled struct {
	OrderID string `json:"orderId"`
}

// OrderStatusChanged is published under order.<status> for downstream
// consumers after a saga transition resolves an order.
type OrderStatusChanged struct {
	OrderID   string    `json:"orderId"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PaymentResult is published by the payment manager under payment.completed
// or payment.failed, and consumed by the order manager.
type PaymentResult struct {
	PaymentID   string    `json:"paymentId"`
	OrderID     string    `json:"orderId"`
	UserID      UserID    `json:"userId,omitempty"`
	Amount      float64   `json:"amount"`
	Status      string    `json:"status"`
	ProcessedAt time.Time `json:"processedAt"`
}

// DecodeOrderCreated parses and validates an order.created payload.
func DecodeOrderCreated(body []byte) (OrderCreated, error) {
	var evt OrderCreated
	if err := json.Unmarshal(body, &evt); err != nil {
		return OrderCreated{}, fault.Malformedf("order.created: %v", err)
	}
	if evt.OrderID == "" {
		return OrderCreated{}, fault.Malformedf("order.created: orderId is required")
	}
	if evt.Total < 0 {
		return OrderCreated{}, fault.Malformedf("order.created: total must be >= 0, got %s",
			strconv.FormatFloat(evt.Total, 'f', -1, 64))
	}
	return evt, nil
}

// DecodePaymentResult parses and validates a payment.completed or
// payment.failed payload.
func DecodePaymentResult(body []byte) (PaymentResult, error) {
	var evt PaymentResult
	if err := json.Unmarshal(body, &evt); err != nil {
		return PaymentResult{}, fault.Malformedf("payment result: %v", err)
	}
	if evt.OrderID == "" {
		return PaymentResult{}, fault.Malformedf("payment result: orderId is required")
	}
	return evt, nil
}
