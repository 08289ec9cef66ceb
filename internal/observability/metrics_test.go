package observability

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestMetricsTracksCalls(t *testing.T) {
	metrics := NewMetrics()
	span := metrics.Start()
	time.Sleep(1 * time.Millisecond)
	span.End("orders.Create", nil)

	span = metrics.Start()
	span.End("orders.Create", errors.New("fail"))

	snap := metrics.Snapshot()
	stats := snap.Operations["orders.Create"]
	if stats.Count != 2 {
		t.Fatalf("expected 2 calls, got %d", stats.Count)
	}
	if stats.Errors != 1 {
		t.Fatalf("expected 1 error, got %d", stats.Errors)
	}
	if snap.TotalRequests != 2 || snap.TotalErrors != 1 {
		t.Fatalf("unexpected totals: %+v", snap)
	}
}

func TestMetricsInFlightGauge(t *testing.T) {
	metrics := NewMetrics()
	span := metrics.Start()
	if got := metrics.Snapshot().InFlight; got != 1 {
		t.Fatalf("expected 1 inflight, got %d", got)
	}
	span.End("orders.Create", nil)
	if got := metrics.Snapshot().InFlight; got != 0 {
		t.Fatalf("expected 0 inflight after End, got %d", got)
	}
}

func TestMetricsTracksEvents(t *testing.T) {
	metrics := NewMetrics()
	metrics.AddEventConsumed("order.created")
	metrics.AddEventConsumed("order.created")
	metrics.AddEventConsumed("payment.completed")
	metrics.AddEventDropped()

	snap := metrics.Snapshot()
	if snap.EventsConsumed["order.created"] != 2 {
		t.Fatalf("expected 2 order.created, got %d", snap.EventsConsumed["order.created"])
	}
	if snap.EventsConsumed["payment.completed"] != 1 {
		t.Fatalf("unexpected payment.completed count")
	}
	if snap.EventsDropped != 1 {
		t.Fatalf("expected 1 dropped event, got %d", snap.EventsDropped)
	}
}

func TestMetricsTracksRateLimited(t *testing.T) {
	metrics := NewMetrics()
	metrics.AddRateLimited()
	metrics.AddRateLimited()

	snap := metrics.Snapshot()
	if snap.RateLimited != 2 {
		t.Fatalf("expected 2 rate limited, got %d", snap.RateLimited)
	}
}

func TestMetricsMarkShutdown(t *testing.T) {
	metrics := NewMetrics()
	metrics.MarkShutdown(5)
	snap := metrics.Snapshot()
	if snap.Lifecycle == nil {
		t.Fatalf("expected lifecycle snapshot")
	}
	if snap.Lifecycle.InFlightAtShutdown != 5 {
		t.Fatalf("expected inflight 5, got %d", snap.Lifecycle.InFlightAtShutdown)
	}
	if snap.Lifecycle.ShutdownAt.IsZero() {
		t.Fatalf("expected shutdown timestamp")
	}
}

func TestHandlerReturnsJSON(t *testing.T) {
	metrics := NewMetrics()
	span := metrics.Start()
	span.End("GET /api/orders", errors.New("fail"))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()

	Handler(metrics).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var snap Snapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if snap.TotalErrors != 1 {
		t.Fatalf("expected total errors 1, got %d", snap.TotalErrors)
	}
	if len(snap.Operations) == 0 {
		t.Fatalf("expected operations in snapshot")
	}
}

func TestMetricsNilSafePaths(t *testing.T) {
	var m *Metrics
	span := m.Start()        // nil-safe
	span.End("ignored", nil) // should not panic

	m.MarkShutdown(10)        // nil-safe
	m.AddEventConsumed("any") // nil-safe
	m.AddEventDropped()
	m.AddRateLimited()
}
