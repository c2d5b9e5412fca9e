// Package statemachine owns the exchange lifecycle state machine and the
// idempotent checkpoint log (spec.md §4.2).
//
// Grounded on graph/checkpoint.go and graph/node.go from the teacher: a
// small set of typed sentinel errors plus a durable, idempotency-keyed
// record of step completion. The teacher's generic per-node checkpoint
// (keyed by a computed SHA-256 idempotency hash over run/step/state) is
// replaced here with the concrete (exchangeId, stepName) uniqueness the
// store already enforces, since routes in this engine are fixed and
// registered at startup rather than an arbitrary dynamic graph.
package statemachine

import (
	"github.com/durableflow/durableflow/internal/apperrors"
	"github.com/durableflow/durableflow/internal/store"
)

// transitions enumerates every legal (from, to) edge in spec.md §4.2.
// FAILED is reachable from any non-terminal status (including PENDING);
// that fan-out is handled separately in isLegalTransition. CANCELLED is
// listed per-from and is not reachable from PENDING.
var transitions = map[string]map[string]bool{
	store.StatusPending: {
		store.StatusRunning: true,
	},
	store.StatusRunning: {
		store.StatusPaused:          true,
		store.StatusWaitingApproval: true,
		store.StatusCompleted:       true,
		store.StatusFailed:          true,
		store.StatusCancelled:       true,
	},
	store.StatusPaused: {
		store.StatusRunning:   true,
		store.StatusFailed:    true,
		store.StatusCancelled: true,
	},
	store.StatusWaitingApproval: {
		store.StatusRunning:   true,
		store.StatusFailed:    true,
		store.StatusCancelled: true,
	},
}

// isTerminal reports whether status is one of the three terminal states.
func isTerminal(status string) bool {
	switch status {
	case store.StatusCompleted, store.StatusFailed, store.StatusCancelled:
		return true
	default:
		return false
	}
}

// isLegalTransition reports whether moving an exchange from `from` to
// `to` is allowed by the state machine in spec.md §4.2. FAILED is
// reachable from any non-terminal state ("any non-terminal | FAILED").
func isLegalTransition(from, to string) bool {
	if isTerminal(from) {
		return false
	}
	if to == store.StatusFailed {
		return true
	}
	edges, ok := transitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// legalTransitionOrErr returns nil if the transition is legal, otherwise a
// typed invalid-state error naming the offending operation.
func legalTransitionOrErr(op, from, to string) error {
	if !isLegalTransition(from, to) {
		return apperrors.NewStateError(op, from, to)
	}
	return nil
}
