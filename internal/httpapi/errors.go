package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/durableflow/durableflow/internal/apperrors"
	"github.com/durableflow/durableflow/internal/store"
)

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps the engine's sentinel error taxonomy (spec.md §7) to an
// HTTP status and writes a JSON body. Comparisons use errors.Is/As, never
// string matching.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperrors.ErrNotFound), errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperrors.ErrInvalidState):
		status = http.StatusBadRequest
	case errors.Is(err, apperrors.ErrBadInput):
		status = http.StatusBadRequest
	case errors.Is(err, apperrors.ErrTransient):
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return nil
}
