package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ulule/limiter/v3"

	"orderflow/internal/observability"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// requestLogger logs each request and records a metrics span keyed on the
// method and route pattern. The pattern keeps the operation set bounded:
// keying on the raw path would mint a new entry per order or payment ID.
func requestLogger(log *slog.Logger, metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			span := metrics.Start()

			next.ServeHTTP(rec, r)

			operation := r.Method + " unrouted"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					operation = r.Method + " " + pattern
				}
			}
			var spanErr error
			if rec.status >= http.StatusInternalServerError {
				spanErr = errServer
			}
			span.End(operation, spanErr)
			log.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote", r.RemoteAddr,
			)
		})
	}
}

var errServer = &serverError{}

type serverError struct{}

func (*serverError) Error() string { return "server error" }

// rateLimit rejects requests over the per-client limit with a 429. The
// client key is the remote address.
func rateLimit(lim *limiter.Limiter, metrics *observability.Metrics, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if lim == nil {
				next.ServeHTTP(w, r)
				return
			}

			lctx, err := lim.Get(r.Context(), r.RemoteAddr)
			if err != nil {
				log.Error("rate limiter failed", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if lctx.Reached {
				metrics.AddRateLimited()
				writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limited"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
