package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type decisionRequest struct {
	Response string `json:"response,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// handleListPendingApprovals implements `GET /api/approvals`: PENDING
// only, oldest first.
func (s *Server) handleListPendingApprovals(w http.ResponseWriter, r *http.Request) {
	pending, err := s.store.ListPendingApprovals(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	dtos := make([]approvalDTO, 0, len(pending))
	for _, a := range pending {
		dtos = append(dtos, toApprovalDTO(a))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// handleGetApproval implements `GET /api/approvals/{id}`.
func (s *Server) handleGetApproval(w http.ResponseWriter, r *http.Request) {
	a, err := s.store.GetApproval(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toApprovalDTO(a))
}

// handleGetApprovalByExchange implements `GET /api/approvals/by-exchange/{exchangeId}`.
func (s *Server) handleGetApprovalByExchange(w http.ResponseWriter, r *http.Request) {
	a, err := s.store.GetApprovalByExchange(r.Context(), chi.URLParam(r, "exchangeId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toApprovalDTO(a))
}

// handleApprove implements `POST /api/approvals/{id}/approve`.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	a, err := s.approvals.Approve(r.Context(), chi.URLParam(r, "id"), req.Response)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toApprovalDTO(a))
}

// handleReject implements `POST /api/approvals/{id}/reject`.
func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	a, err := s.approvals.Reject(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toApprovalDTO(a))
}
