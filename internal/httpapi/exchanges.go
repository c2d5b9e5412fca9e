package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/durableflow/durableflow/internal/apperrors"
	"github.com/durableflow/durableflow/internal/ids"
	"github.com/durableflow/durableflow/internal/store"
)

type createExchangeRequest struct {
	RouteID string            `json:"routeId"`
	Payload string            `json:"payload"`
	Headers map[string]string `json:"headers,omitempty"`
}

type createExchangeResponse struct {
	ExchangeID string `json:"exchangeId"`
	RouteID    string `json:"routeId"`
	Message    string `json:"message"`
}

// handleCreateExchange implements `POST /api/exchanges` (spec.md §6):
// creates a PENDING exchange and starts it asynchronously. Submission is
// fire-and-forget; validation failures (e.g. empty payload) surface later
// as a FAILED exchange, not a synchronous error here.
func (s *Server) handleCreateExchange(w http.ResponseWriter, r *http.Request) {
	var req createExchangeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", apperrors.ErrBadInput, err))
		return
	}

	route, ok := s.runner.Registry().Get(req.RouteID)
	if !ok {
		writeError(w, fmt.Errorf("%w: unknown routeId %q", apperrors.ErrBadInput, req.RouteID))
		return
	}

	headersJSON := ""
	if len(req.Headers) > 0 {
		if b, err := json.Marshal(req.Headers); err == nil {
			headersJSON = string(b)
		}
	}

	exchangeID := ids.New()
	ctx := r.Context()
	if err := s.manager.CreatePending(ctx, store.ExchangeState{
		ExchangeID: exchangeID,
		RouteID:    req.RouteID,
		Payload:    req.Payload,
		Context:    headersJSON,
	}); err != nil {
		writeError(w, err)
		return
	}

	if _, err := s.manager.StartExchange(ctx, exchangeID); err != nil {
		writeError(w, err)
		return
	}

	// Execution outlives this request; it must not be tied to a context
	// net/http cancels the moment this handler returns.
	go s.runner.Run(context.Background(), route, exchangeID, req.Payload)

	writeJSON(w, http.StatusAccepted, createExchangeResponse{
		ExchangeID: exchangeID,
		RouteID:    req.RouteID,
		Message:    "exchange accepted",
	})
}

type listExchangesResponse struct {
	Exchanges []exchangeDTO `json:"exchanges"`
	Total     int           `json:"total"`
	Limit     int           `json:"limit"`
	Offset    int           `json:"offset"`
}

// handleListExchanges implements `GET /api/exchanges?status=&routeId=&limit=&offset=`.
func (s *Server) handleListExchanges(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := q.Get("status")
	if status != "" && !validExchangeStatuses[status] {
		writeError(w, fmt.Errorf("%w: unknown status filter %q", apperrors.ErrBadInput, status))
		return
	}

	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, fmt.Errorf("%w: invalid limit %q", apperrors.ErrBadInput, v))
			return
		}
		limit = n
	}
	offset := 0
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, fmt.Errorf("%w: invalid offset %q", apperrors.ErrBadInput, v))
			return
		}
		offset = n
	}

	exchanges, total, err := s.store.ListExchanges(r.Context(), store.ExchangeFilter{
		Status: status, RouteID: q.Get("routeId"), Limit: limit, Offset: offset,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	dtos := make([]exchangeDTO, 0, len(exchanges))
	for _, e := range exchanges {
		dtos = append(dtos, toExchangeDTO(e))
	}
	writeJSON(w, http.StatusOK, listExchangesResponse{Exchanges: dtos, Total: total, Limit: limit, Offset: offset})
}

// handleGetExchange implements `GET /api/exchanges/{id}`.
func (s *Server) handleGetExchange(w http.ResponseWriter, r *http.Request) {
	e, err := s.store.GetExchange(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toExchangeDTO(e))
}

// handlePauseExchange implements `POST /api/exchanges/{id}/pause`.
func (s *Server) handlePauseExchange(w http.ResponseWriter, r *http.Request) {
	e, err := s.manager.Pause(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toExchangeDTO(e))
}

// handleResumeExchange implements `POST /api/exchanges/{id}/resume`:
// transitions PAUSED -> RUNNING and resubmits through the recovery entry
// point so already-checkpointed steps are skipped.
func (s *Server) handleResumeExchange(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	e, err := s.manager.Resume(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	route, ok := s.runner.Registry().Get(e.RouteID)
	if !ok {
		writeError(w, fmt.Errorf("%w: unknown routeId %q", apperrors.ErrBadInput, e.RouteID))
		return
	}
	go s.runner.Run(context.Background(), route, e.ExchangeID, e.Payload)
	writeJSON(w, http.StatusOK, toExchangeDTO(e))
}

// handleCancelExchange implements `POST /api/exchanges/{id}/cancel`.
func (s *Server) handleCancelExchange(w http.ResponseWriter, r *http.Request) {
	e, err := s.manager.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toExchangeDTO(e))
}

// handleListCheckpoints implements `GET /api/exchanges/{id}/checkpoints`.
func (s *Server) handleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	cps, err := s.store.ListCheckpoints(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	dtos := make([]checkpointDTO, 0, len(cps))
	for _, c := range cps {
		dtos = append(dtos, toCheckpointDTO(c))
	}
	writeJSON(w, http.StatusOK, dtos)
}
