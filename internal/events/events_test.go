package events

import (
	"encoding/json"
	"errors"
	"testing"

	"orderflow/internal/fault"
)

func TestDecodeOrderCreated_Valid(t *testing.T) {
	body := []byte(`{"orderId":"order-1","userId":7,"items":[{"productId":"p1","price":10,"quantity":2}],"total":20,"createdAt":"2024-01-02T03:04:05Z"}`)

	evt, err := DecodeOrderCreated(body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if evt.OrderID != "order-1" {
		t.Fatalf("unexpected orderId %q", evt.OrderID)
	}
	if evt.UserID != "7" {
		t.Fatalf("expected numeric userId normalized to string, got %q", evt.UserID)
	}
	if evt.Total != 20 {
		t.Fatalf("unexpected total %v", evt.Total)
	}
}

func TestDecodeOrderCreated_MissingOrderID(t *testing.T) {
	_, err := DecodeOrderCreated([]byte(`{"total":20}`))
	if !errors.Is(err, fault.ErrMalformedEvent) {
		t.Fatalf("expected malformed event, got %v", err)
	}
}

func TestDecodeOrderCreated_NotJSON(t *testing.T) {
	_, err := DecodeOrderCreated([]byte(`{not json`))
	if !errors.Is(err, fault.ErrMalformedEvent) {
		t.Fatalf("expected malformed event, got %v", err)
	}
}

func TestDecodeOrderCreated_NegativeTotal(t *testing.T) {
	_, err := DecodeOrderCreated([]byte(`{"orderId":"order-1","total":-5}`))
	if !errors.Is(err, fault.ErrMalformedEvent) {
		t.Fatalf("expected malformed event, got %v", err)
	}
}

func TestDecodePaymentResult_Valid(t *testing.T) {
	body := []byte(`{"paymentId":"pay-1","orderId":"order-1","userId":"u1","amount":20,"status":"COMPLETED","processedAt":"2024-01-02T03:04:05Z"}`)

	evt, err := DecodePaymentResult(body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if evt.PaymentID != "pay-1" || evt.OrderID != "order-1" {
		t.Fatalf("unexpected ids: %+v", evt)
	}
}

func TestDecodePaymentResult_MissingOrderID(t *testing.T) {
	_, err := DecodePaymentResult([]byte(`{"paymentId":"pay-1","amount":20}`))
	if !errors.Is(err, fault.ErrMalformedEvent) {
		t.Fatalf("expected malformed event, got %v", err)
	}
}

func TestUserID_UnmarshalStringAndNumber(t *testing.T) {
	var s struct {
		User UserID `json:"user"`
	}

	if err := json.Unmarshal([]byte(`{"user":"abc"}`), &s); err != nil {
		t.Fatalf("string form: %v", err)
	}
	if s.User != "abc" {
		t.Fatalf("unexpected user %q", s.User)
	}

	if err := json.Unmarshal([]byte(`{"user":42}`), &s); err != nil {
		t.Fatalf("number form: %v", err)
	}
	if s.User != "42" {
		t.Fatalf("unexpected user %q", s.User)
	}

	if err := json.Unmarshal([]byte(`{"user":true}`), &s); err == nil {
		t.Fatalf("expected error for boolean user id")
	}
}

func TestRouteOrderStatus(t *testing.T) {
	if got := RouteOrderStatus("PAID"); got != "order.paid" {
		t.Fatalf("unexpected route %q", got)
	}
	if got := RouteOrderStatus("PAYMENT_FAILED"); got != "order.payment_failed" {
		t.Fatalf("unexpected route %q", got)
	}
}
