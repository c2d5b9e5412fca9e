package httpapi

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/durableflow/durableflow/internal/apperrors"
	"github.com/durableflow/durableflow/internal/store"
)

type routeSummaryDTO struct {
	ID        string   `json:"id"`
	StepNames []string `json:"stepNames"`
}

func (s *Server) routeSummary(id string) (routeSummaryDTO, bool) {
	route, ok := s.runner.Registry().Get(id)
	if !ok {
		return routeSummaryDTO{}, false
	}
	names := make([]string, 0, len(route.Steps))
	for _, step := range route.Steps {
		names = append(names, step.Name)
	}
	return routeSummaryDTO{ID: route.ID, StepNames: names}, true
}

// handleListRoutes implements `GET /api/routes`.
func (s *Server) handleListRoutes(w http.ResponseWriter, r *http.Request) {
	ids := s.runner.Registry().IDs()
	sort.Strings(ids)
	summaries := make([]routeSummaryDTO, 0, len(ids))
	for _, id := range ids {
		if summary, ok := s.routeSummary(id); ok {
			summaries = append(summaries, summary)
		}
	}
	writeJSON(w, http.StatusOK, summaries)
}

// handleRouteStatus implements `GET /api/routes/{id}/status`.
func (s *Server) handleRouteStatus(w http.ResponseWriter, r *http.Request) {
	summary, ok := s.routeSummary(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, fmt.Errorf("%w: unknown route", apperrors.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleRouteMetrics implements `GET /api/routes/{id}/metrics`.
func (s *Server) handleRouteMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.GetRouteMetric(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRouteMetricDTO(m))
}

// handleAllRouteMetrics implements `GET /api/routes/metrics`.
func (s *Server) handleAllRouteMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := s.store.ListRouteMetrics(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	dtos := make([]routeMetricDTO, 0, len(metrics))
	for _, m := range metrics {
		dtos = append(dtos, toRouteMetricDTO(m))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// handleRouteLogs implements `GET /api/routes/{id}/logs`.
func (s *Server) handleRouteLogs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			limit = n
		}
	}
	logs, err := s.store.ListRouteLogs(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	dtos := make([]routeLogDTO, 0, len(logs))
	for _, l := range logs {
		dtos = append(dtos, toRouteLogDTO(l))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// handleRouteLogsByExchange implements `GET /api/routes/logs/exchange/{exchangeId}`.
func (s *Server) handleRouteLogsByExchange(w http.ResponseWriter, r *http.Request) {
	logs, err := s.store.ListRouteLogsByExchange(r.Context(), chi.URLParam(r, "exchangeId"))
	if err != nil {
		writeError(w, err)
		return
	}
	dtos := make([]routeLogDTO, 0, len(logs))
	for _, l := range logs {
		dtos = append(dtos, toRouteLogDTO(l))
	}
	writeJSON(w, http.StatusOK, dtos)
}

type recoveryStatsDTO struct {
	RunningCount         int `json:"runningCount"`
	WaitingApprovalCount int `json:"waitingApprovalCount"`
	PendingApprovalCount int `json:"pendingApprovalCount"`
}

// handleRecoveryStats implements `GET /api/routes/recovery-stats`: a
// snapshot of the counts CrashRecoveryService acts on (spec.md §4.5).
func (s *Server) handleRecoveryStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	_, runningTotal, err := s.store.ListExchanges(ctx, store.ExchangeFilter{Status: store.StatusRunning, Limit: 1})
	if err != nil {
		writeError(w, err)
		return
	}
	_, waitingTotal, err := s.store.ListExchanges(ctx, store.ExchangeFilter{Status: store.StatusWaitingApproval, Limit: 1})
	if err != nil {
		writeError(w, err)
		return
	}
	pending, err := s.store.ListPendingApprovals(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recoveryStatsDTO{
		RunningCount:         runningTotal,
		WaitingApprovalCount: waitingTotal,
		PendingApprovalCount: len(pending),
	})
}
