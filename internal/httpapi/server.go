// Package httpapi implements the REST surface of spec.md §6: exchange
// submission and control, approval decisions, route introspection, and a
// Server-Sent Events stream over the event bus.
//
// There is no HTTP surface in the teacher to ground this on; it is pure
// enrichment, built with go-chi/chi (routing) and go-chi/cors, the
// ecosystem's standard pairing for a small JSON API, in the same spirit
// as the teacher's own preference for small, focused third-party
// libraries over hand-rolled infrastructure.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/durableflow/durableflow/internal/approval"
	"github.com/durableflow/durableflow/internal/eventbus"
	"github.com/durableflow/durableflow/internal/metrics"
	"github.com/durableflow/durableflow/internal/routeengine"
	"github.com/durableflow/durableflow/internal/statemachine"
	"github.com/durableflow/durableflow/internal/store"
)

// Server holds every collaborator the REST surface dispatches to.
type Server struct {
	store     store.Store
	manager   *statemachine.Manager
	approvals *approval.Service
	runner    *routeengine.DurableStepRunner
	bus       *eventbus.Bus
	metrics   *metrics.Metrics
}

// New builds a Server over the given collaborators. metrics may be nil;
// SSE subscriber gauge updates degrade gracefully in that case.
func New(s store.Store, manager *statemachine.Manager, approvals *approval.Service, runner *routeengine.DurableStepRunner, bus *eventbus.Bus, m *metrics.Metrics) *Server {
	return &Server{store: s, manager: manager, approvals: approvals, runner: runner, bus: bus, metrics: m}
}

// Router builds the chi.Mux exposing every endpoint of spec.md §6.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/api/exchanges", func(r chi.Router) {
		r.Post("/", s.handleCreateExchange)
		r.Get("/", s.handleListExchanges)
		r.Get("/{id}", s.handleGetExchange)
		r.Post("/{id}/pause", s.handlePauseExchange)
		r.Post("/{id}/resume", s.handleResumeExchange)
		r.Post("/{id}/cancel", s.handleCancelExchange)
		r.Get("/{id}/checkpoints", s.handleListCheckpoints)
	})

	r.Route("/api/approvals", func(r chi.Router) {
		r.Get("/", s.handleListPendingApprovals)
		r.Get("/{id}", s.handleGetApproval)
		r.Get("/by-exchange/{exchangeId}", s.handleGetApprovalByExchange)
		r.Post("/{id}/approve", s.handleApprove)
		r.Post("/{id}/reject", s.handleReject)
	})

	r.Route("/api/routes", func(r chi.Router) {
		r.Get("/", s.handleListRoutes)
		r.Get("/metrics", s.handleAllRouteMetrics)
		r.Get("/recovery-stats", s.handleRecoveryStats)
		r.Get("/logs/exchange/{exchangeId}", s.handleRouteLogsByExchange)
		r.Get("/{id}/status", s.handleRouteStatus)
		r.Get("/{id}/metrics", s.handleRouteMetrics)
		r.Get("/{id}/logs", s.handleRouteLogs)
	})

	r.Route("/api/events", func(r chi.Router) {
		r.Get("/stream", s.handleEventStream)
		r.Get("/health", s.handleEventsHealth)
		r.Get("/clients/count", s.handleClientsCount)
	})

	return r
}
