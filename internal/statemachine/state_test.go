package statemachine

import (
	"testing"

	"github.com/durableflow/durableflow/internal/store"
)

func TestIsLegalTransitionTable(t *testing.T) {
	cases := []struct {
		from, to string
		want     bool
	}{
		{store.StatusPending, store.StatusRunning, true},
		{store.StatusPending, store.StatusPaused, false},
		{store.StatusRunning, store.StatusPaused, true},
		{store.StatusRunning, store.StatusWaitingApproval, true},
		{store.StatusRunning, store.StatusCompleted, true},
		{store.StatusRunning, store.StatusCancelled, true},
		{store.StatusPaused, store.StatusRunning, true},
		{store.StatusPaused, store.StatusCancelled, true},
		{store.StatusWaitingApproval, store.StatusRunning, true},
		{store.StatusWaitingApproval, store.StatusCancelled, true},
		{store.StatusPending, store.StatusFailed, true},
		{store.StatusRunning, store.StatusFailed, true},
		{store.StatusPaused, store.StatusFailed, true},
		{store.StatusWaitingApproval, store.StatusFailed, true},
		{store.StatusCompleted, store.StatusRunning, false},
		{store.StatusFailed, store.StatusFailed, false},
		{store.StatusCancelled, store.StatusRunning, false},
		{store.StatusCompleted, store.StatusFailed, false},
	}

	for _, tc := range cases {
		got := isLegalTransition(tc.from, tc.to)
		if got != tc.want {
			t.Errorf("isLegalTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []string{store.StatusCompleted, store.StatusFailed, store.StatusCancelled}
	for _, s := range terminal {
		if !isTerminal(s) {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	nonTerminal := []string{store.StatusPending, store.StatusRunning, store.StatusPaused, store.StatusWaitingApproval}
	for _, s := range nonTerminal {
		if isTerminal(s) {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
}
