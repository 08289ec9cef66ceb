// Package httpapi exposes the order and payment aggregates over HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ulule/limiter/v3"

	"orderflow/internal/observability"
	"orderflow/internal/orders"
	"orderflow/internal/payments"
)

// ReadyCheck reports whether a dependency can serve traffic.
type ReadyCheck func(ctx context.Context) error

// API holds the handler dependencies.
type API struct {
	orders   *orders.Service
	payments *payments.Service
	metrics  *observability.Metrics
	log      *slog.Logger
	ready    []ReadyCheck
	ws       http.HandlerFunc
	limiter  *limiter.Limiter
}

// Option customizes the API.
type Option func(*API)

// WithReadyChecks adds dependency probes to /health/ready.
func WithReadyChecks(checks ...ReadyCheck) Option {
	return func(a *API) { a.ready = append(a.ready, checks...) }
}

// WithWebSocket mounts a realtime handler at /ws/orders.
func WithWebSocket(h http.HandlerFunc) Option {
	return func(a *API) { a.ws = h }
}

// WithRateLimiter applies a per-client request limit on the API routes.
func WithRateLimiter(lim *limiter.Limiter) Option {
	return func(a *API) { a.limiter = lim }
}

// New constructs the API.
func New(orderSvc *orders.Service, paymentSvc *payments.Service, metrics *observability.Metrics, log *slog.Logger, opts ...Option) *API {
	a := &API{
		orders:   orderSvc,
		payments: paymentSvc,
		metrics:  metrics,
		log:      log,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Router builds the chi routing tree.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(requestLogger(a.log, a.metrics))

	r.Route("/api", func(r chi.Router) {
		r.Use(rateLimit(a.limiter, a.metrics, a.log))

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", a.createOrder)
			r.Get("/", a.listOrders)
			r.Get("/{id}", a.getOrder)
			r.Patch("/{id}/cancel", a.cancelOrder)
		})
		r.Route("/payments", func(r chi.Router) {
			r.Post("/", a.createPayment)
			r.Get("/", a.listPayments)
			r.Get("/{id}", a.getPayment)
		})
	})

	r.Get("/health", a.health)
	r.Get("/health/live", a.healthLive)
	r.Get("/health/ready", a.healthReady)
	r.Method(http.MethodGet, "/metrics", observability.Handler(a.metrics))

	if a.ws != nil {
		r.Get("/ws/orders", a.ws)
	}

	return r
}

type healthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Time: time.Now().UTC().Format(time.RFC3339)})
}

func (a *API) healthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Time: time.Now().UTC().Format(time.RFC3339)})
}

func (a *API) healthReady(w http.ResponseWriter, r *http.Request) {
	for _, check := range a.ready {
		if err := check(r.Context()); err != nil {
			a.log.Warn("readiness check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "not ready"})
			return
		}
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ready", Time: time.Now().UTC().Format(time.RFC3339)})
}
