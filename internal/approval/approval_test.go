package approval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/durableflow/durableflow/internal/apperrors"
	"github.com/durableflow/durableflow/internal/eventbus"
	"github.com/durableflow/durableflow/internal/statemachine"
	"github.com/durableflow/durableflow/internal/store"
)

func newTestService(t *testing.T) (*Service, store.Store) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	bus := eventbus.New()
	mgr := statemachine.New(s, bus)
	return New(s, mgr, bus), s
}

func seedRunningExchange(t *testing.T, s store.Store, id string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	e := store.ExchangeState{
		ExchangeID: id, RouteID: "chat", Status: store.StatusRunning,
		Payload: "hi", CreatedAt: now, StartedAt: &now, LastCheckpoint: now,
	}
	if err := s.CreateExchange(ctx, e); err != nil {
		t.Fatalf("CreateExchange: %v", err)
	}
}

func TestRequestApprovalBlocksUntilApproved(t *testing.T) {
	ctx := context.Background()
	svc, s := newTestService(t)
	seedRunningExchange(t, s, "ex-1")

	resultCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		resp, err := svc.RequestApproval(ctx, "ex-1", "chat", `{"draft":"hi"}`, time.Second)
		resultCh <- resp
		errCh <- err
	}()

	// Give the waiter time to register before approving.
	time.Sleep(20 * time.Millisecond)

	pending, err := s.ListPendingApprovals(ctx)
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected one pending approval, got %v err=%v", pending, err)
	}

	if _, err := svc.Approve(ctx, pending[0].ID, "looks good"); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	select {
	case resp := <-resultCh:
		if resp != "looks good" {
			t.Fatalf("expected response %q, got %q", "looks good", resp)
		}
	case <-time.After(time.Second):
		t.Fatal("RequestApproval did not return after Approve")
	}
	if err := <-errCh; err != nil {
		t.Fatalf("expected nil error on approval, got %v", err)
	}

	ex, err := s.GetExchange(ctx, "ex-1")
	if err != nil {
		t.Fatalf("GetExchange: %v", err)
	}
	if ex.Status != store.StatusRunning {
		t.Fatalf("expected exchange RUNNING after approval, got %s", ex.Status)
	}
}

func TestRequestApprovalRejected(t *testing.T) {
	ctx := context.Background()
	svc, s := newTestService(t)
	seedRunningExchange(t, s, "ex-1")

	errCh := make(chan error, 1)
	go func() {
		_, err := svc.RequestApproval(ctx, "ex-1", "chat", "payload", time.Second)
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)

	pending, _ := s.ListPendingApprovals(ctx)
	if _, err := svc.Reject(ctx, pending[0].ID, "no"); err != nil {
		t.Fatalf("Reject: %v", err)
	}

	err := <-errCh
	if !errors.Is(err, apperrors.ErrApprovalRejected) {
		t.Fatalf("expected ErrApprovalRejected, got %v", err)
	}

	ex, _ := s.GetExchange(ctx, "ex-1")
	if ex.Status != store.StatusFailed {
		t.Fatalf("expected exchange FAILED after rejection, got %s", ex.Status)
	}
}

func TestRequestApprovalTimesOut(t *testing.T) {
	ctx := context.Background()
	svc, s := newTestService(t)
	seedRunningExchange(t, s, "ex-1")

	_, err := svc.RequestApproval(ctx, "ex-1", "chat", "payload", 10*time.Millisecond)
	if !errors.Is(err, apperrors.ErrApprovalTimeout) {
		t.Fatalf("expected ErrApprovalTimeout, got %v", err)
	}

	pending, err := s.ListPendingApprovals(ctx)
	if err != nil {
		t.Fatalf("ListPendingApprovals: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending approvals after timeout, got %d", len(pending))
	}
}

func TestApproveRejectsDoubleDecision(t *testing.T) {
	ctx := context.Background()
	svc, s := newTestService(t)
	seedRunningExchange(t, s, "ex-1")

	id, err := svc.CreateApprovalRequest(ctx, "ex-1", "chat", "payload")
	if err != nil {
		t.Fatalf("CreateApprovalRequest: %v", err)
	}

	if _, err := svc.Approve(ctx, id, "ok"); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if _, err := svc.Approve(ctx, id, "ok again"); !errors.Is(err, apperrors.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on double approve, got %v", err)
	}
}

func TestRestorePendingApprovalsReinstallsSignals(t *testing.T) {
	ctx := context.Background()
	svc, s := newTestService(t)
	seedRunningExchange(t, s, "ex-1")

	id, err := svc.CreateApprovalRequest(ctx, "ex-1", "chat", "payload")
	if err != nil {
		t.Fatalf("CreateApprovalRequest: %v", err)
	}

	// Simulate a fresh process: drop the in-memory signal map state.
	fresh, _ := newTestService(t)
	fresh.store = s
	n, err := fresh.RestorePendingApprovals(ctx)
	if err != nil {
		t.Fatalf("RestorePendingApprovals: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 restored approval, got %d", n)
	}

	if _, ok := fresh.takeSignal(id); !ok {
		t.Fatalf("expected signal to be restored for approval %s", id)
	}
}
