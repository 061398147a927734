/*
metrics.go - Prometheus instrumentation

PURPOSE:
  Request-level and domain-level counters exposed on /metrics. The
  domain counters are incremented by the sweep and by handlers; request
  timing comes from the chi middleware below.

METRICS:
  coaching_http_requests_total{method,path,status}
  coaching_bookings_total{outcome}
  coaching_cancellations_total{decision}
  coaching_sweep_runs_total
  coaching_sweep_transitions_total{kind}
*/
package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coaching_http_requests_total",
		Help: "HTTP requests by method, route pattern, and status.",
	}, []string{"method", "path", "status"})

	bookingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coaching_bookings_total",
		Help: "Booking attempts by outcome (created, failed).",
	}, []string{"outcome"})

	cancellationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coaching_cancellations_total",
		Help: "Cancellation decisions by outcome (requested, approved, rejected).",
	}, []string{"decision"})

	sweepRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coaching_sweep_runs_total",
		Help: "Completed background sweep iterations.",
	})

	sweepTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coaching_sweep_transitions_total",
		Help: "State transitions applied by the sweep, by kind.",
	}, []string{"kind"})
)

// MetricsHandler exposes the Prometheus scrape endpoint.
func MetricsHandler() http.Handler { return promhttp.Handler() }

// countRequests records one counter increment per completed request,
// labeled with the chi route pattern rather than the raw URL so match
// and appointment ids don't explode cardinality.
func countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unmatched"
		}
		httpRequests.WithLabelValues(r.Method, pattern, strconv.Itoa(ww.Status())).Inc()
	})
}
