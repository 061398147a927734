/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:        Request logging
  2. Recoverer:     Panic recovery (500 instead of crash)
  3. RequestID:     Unique ID per request for tracing
  4. countRequests: Prometheus request counter
  5. CORS:          Cross-origin requests for frontend
  6. Authenticate:  Bearer token -> identity (API routes only)

ROUTE GROUPS:
  /api/appointments/*   Booking lifecycle
  /api/cancellations/*  Cancellation decisions and quota
  /api/coach-changes/*  Coach swap approvals
  /api/matches/*        Monthly tournament
  /api/accounts/*       Balance and top-up
  /api/admin/*          Operational triggers
  /healthz              Liveness (unauthenticated)
  /metrics              Prometheus scrape (unauthenticated)

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Authentication
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/paddlepoint/coaching-engine/auth"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, resolver *auth.Resolver) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(countRequests)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// Unauthenticated surface
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", MetricsHandler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(Authenticate(resolver))

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", h.BookCourse)
			r.Get("/{id}", h.GetAppointment)
			r.Post("/{id}/confirm", h.ConfirmAppointment)
			r.Post("/{id}/cancel", h.RequestCancel)
			r.Post("/{id}/coach-change", h.RequestCoachChange)
		})

		r.Route("/cancellations", func(r chi.Router) {
			r.Get("/remaining", h.RemainingCancelQuota)
			r.Post("/{id}/decision", h.DecideCancel)
		})

		r.Route("/coach-changes", func(r chi.Router) {
			r.Get("/{id}", h.GetCoachChange)
			r.Post("/{id}/vote", h.VoteCoachChange)
		})

		r.Route("/matches", func(r chi.Router) {
			r.Get("/", h.ListMatches)
			r.Get("/{id}", h.GetMatch)
			r.Post("/{id}/registrations", h.RegisterForMatch)
			r.Get("/{id}/registrations/counts", h.RegistrationCounts)
			r.Get("/{id}/schedule", h.StudentSchedule)
			r.Put("/{id}/time", h.UpdateMatchTime)
		})

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/balance", h.GetBalance)
			r.Post("/topup", h.TopUp)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/sweep", h.TriggerSweep)
		})
	})

	return r
}
