package payments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"orderflow/internal/events"
	"orderflow/internal/fault"
)

type spyPublisher struct {
	keys     []string
	payloads []any
	err      error
}

func (s *spyPublisher) Publish(_ context.Context, routingKey string, payload any) error {
	s.keys = append(s.keys, routingKey)
	s.payloads = append(s.payloads, payload)
	return s.err
}

var testTime = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestService(store Store, pub Publisher) *Service {
	seq := 0
	newID := func() string {
		seq++
		return fmt.Sprintf("pay-%d", seq)
	}
	return NewService(store, pub, CeilingDecider(DefaultCeiling), newID, func() time.Time { return testTime }, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestProcessOrderEvent_CompletesBelowCeiling(t *testing.T) {
	store := NewInMemoryStore()
	pub := &spyPublisher{}
	svc := newTestService(store, pub)

	evt := events.OrderCreated{OrderID: "o1", UserID: "1", Total: 20}
	if err := svc.ProcessOrderEvent(context.Background(), evt); err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(pub.keys) != 1 || pub.keys[0] != events.RoutePaymentCompleted {
		t.Fatalf("expected payment.completed publish, got %v", pub.keys)
	}
	result, ok := pub.payloads[0].(events.PaymentResult)
	if !ok {
		t.Fatalf("unexpected payload type %T", pub.payloads[0])
	}
	if result.OrderID != "o1" || result.Amount != 20 || result.Status != string(StatusCompleted) {
		t.Fatalf("unexpected result %+v", result)
	}

	stored, found, err := store.FindByIdempotencyKey(context.Background(), "o1")
	if err != nil || !found {
		t.Fatalf("payment should be stored under the order id: %v", err)
	}
	if stored.Currency != DefaultCurrency || stored.Method != DefaultMethod {
		t.Fatalf("expected defaults applied, got %+v", stored)
	}
}

func TestProcessOrderEvent_FailsAtCeiling(t *testing.T) {
	store := NewInMemoryStore()
	pub := &spyPublisher{}
	svc := newTestService(store, pub)

	evt := events.OrderCreated{OrderID: "o1", Total: 15000}
	if err := svc.ProcessOrderEvent(context.Background(), evt); err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(pub.keys) != 1 || pub.keys[0] != events.RoutePaymentFailed {
		t.Fatalf("expected payment.failed publish, got %v", pub.keys)
	}
	stored, _, _ := store.FindByIdempotencyKey(context.Background(), "o1")
	if stored.Status != StatusFailed {
		t.Fatalf("expected FAILED, got %s", stored.Status)
	}
}

func TestProcessOrderEvent_RedeliveryIsIdempotent(t *testing.T) {
	store := NewInMemoryStore()
	pub := &spyPublisher{}
	svc := newTestService(store, pub)

	evt := events.OrderCreated{OrderID: "o1", Total: 20}
	for i := 0; i < 3; i++ {
		if err := svc.ProcessOrderEvent(context.Background(), evt); err != nil {
			t.Fatalf("delivery %d: %v", i+1, err)
		}
	}

	if store.Count() != 1 {
		t.Fatalf("expected exactly one payment row, got %d", store.Count())
	}
	if len(pub.keys) != 1 {
		t.Fatalf("redelivery must not re-publish, got %v", pub.keys)
	}
}

func TestProcessOrderEvent_LostInsertRaceIsNoOp(t *testing.T) {
	store := &racingStore{Store: NewInMemoryStore()}
	pub := &spyPublisher{}
	svc := newTestService(store, pub)

	evt := events.OrderCreated{OrderID: "o1", Total: 20}
	if err := svc.ProcessOrderEvent(context.Background(), evt); err != nil {
		t.Fatalf("losing the insert race must not be an error: %v", err)
	}
	if len(pub.keys) != 0 {
		t.Fatalf("the losing side must not publish, got %v", pub.keys)
	}
}

// racingStore reports no existing key but rejects every insert, simulating a
// concurrent consumer winning the row between lookup and insert.
type racingStore struct {
	Store
}

func (s *racingStore) FindByIdempotencyKey(context.Context, string) (Payment, bool, error) {
	return Payment{}, false, nil
}

func (s *racingStore) Insert(context.Context, Payment) error {
	return ErrDuplicateKey
}

func TestProcessOrderEvent_MissingOrderID(t *testing.T) {
	svc := newTestService(NewInMemoryStore(), &spyPublisher{})

	err := svc.ProcessOrderEvent(context.Background(), events.OrderCreated{Total: 20})
	if !errors.Is(err, fault.ErrMalformedEvent) {
		t.Fatalf("expected malformed event, got %v", err)
	}
}

func TestProcessOrderEvent_PublishFailureTolerated(t *testing.T) {
	store := NewInMemoryStore()
	pub := &spyPublisher{err: errors.New("bus down")}
	svc := newTestService(store, pub)

	evt := events.OrderCreated{OrderID: "o1", Total: 20}
	if err := svc.ProcessOrderEvent(context.Background(), evt); err != nil {
		t.Fatalf("publish failure must not fail processing: %v", err)
	}
	if store.Count() != 1 {
		t.Fatalf("payment must be durable despite bus failure")
	}
}

func TestCreatePayment_FreshAndReplay(t *testing.T) {
	store := NewInMemoryStore()
	pub := &spyPublisher{}
	svc := newTestService(store, pub)

	req := CreateRequest{OrderID: "o1", Amount: 50, IdempotencyKey: "key-1"}
	first, replay, err := svc.CreatePayment(context.Background(), req)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if replay {
		t.Fatalf("first call must not be a replay")
	}
	if first.Status != StatusCompleted || first.Currency != DefaultCurrency || first.Method != DefaultMethod {
		t.Fatalf("unexpected payment %+v", first)
	}

	second, replay, err := svc.CreatePayment(context.Background(), req)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !replay {
		t.Fatalf("second call must report a replay")
	}
	if second.ID != first.ID {
		t.Fatalf("replay must return the original record, got %s vs %s", second.ID, first.ID)
	}
	if store.Count() != 1 || len(pub.keys) != 1 {
		t.Fatalf("replay must not create rows or events: rows=%d keys=%v", store.Count(), pub.keys)
	}
}

func TestCreatePayment_Validation(t *testing.T) {
	svc := newTestService(NewInMemoryStore(), &spyPublisher{})
	ctx := context.Background()

	cases := []struct {
		name string
		req  CreateRequest
	}{
		{"missing order", CreateRequest{Amount: 1, IdempotencyKey: "k"}},
		{"missing key", CreateRequest{OrderID: "o1", Amount: 1}},
		{"negative amount", CreateRequest{OrderID: "o1", Amount: -1, IdempotencyKey: "k"}},
	}
	for _, c := range cases {
		if _, _, err := svc.CreatePayment(ctx, c.req); !errors.Is(err, fault.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", c.name, err)
		}
	}
}

func TestCreatePayment_RaceConflicts(t *testing.T) {
	svc := newTestService(&racingStore{Store: NewInMemoryStore()}, &spyPublisher{})

	req := CreateRequest{OrderID: "o1", Amount: 5, IdempotencyKey: "key-1"}
	if _, _, err := svc.CreatePayment(context.Background(), req); !errors.Is(err, fault.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestList_FiltersByOrder(t *testing.T) {
	store := NewInMemoryStore()
	svc := newTestService(store, &spyPublisher{})
	ctx := context.Background()

	for i, orderID := range []string{"o1", "o2", "o1"} {
		req := CreateRequest{OrderID: orderID, Amount: 5, IdempotencyKey: fmt.Sprintf("k-%d", i)}
		if _, _, err := svc.CreatePayment(ctx, req); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	got, err := svc.List(ctx, ListFilter{OrderID: "o1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 payments for o1, got %d", len(got))
	}
}
