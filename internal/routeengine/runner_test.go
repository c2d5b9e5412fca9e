package routeengine

import (
	"context"
	"testing"
	"time"

	"github.com/durableflow/durableflow/internal/approval"
	"github.com/durableflow/durableflow/internal/eventbus"
	"github.com/durableflow/durableflow/internal/llmadapter"
	"github.com/durableflow/durableflow/internal/statemachine"
	"github.com/durableflow/durableflow/internal/store"
)

type harness struct {
	store   store.Store
	manager *statemachine.Manager
	approvals *approval.Service
	runner  *DurableStepRunner
	model   *llmadapter.MockChatModel
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	bus := eventbus.New()
	manager := statemachine.New(s, bus)
	approvals := approval.New(s, manager, bus)
	model := &llmadapter.MockChatModel{Responses: []llmadapter.ChatOut{{Text: " hello there "}}}
	registry := NewRegistry()
	route := NewChatDurableRoute(s, model, 50000)
	registry.Register(route)

	runner := NewDurableStepRunner(manager, approvals, s, nil, registry, time.Second)
	return &harness{store: s, manager: manager, approvals: approvals, runner: runner, model: model}
}

func createAndStart(t *testing.T, h *harness, exchangeID, payload string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	if err := h.store.CreateExchange(ctx, store.ExchangeState{
		ExchangeID: exchangeID, RouteID: ChatDurableRouteID, Status: store.StatusPending,
		Payload: payload, CreatedAt: now, LastCheckpoint: now,
	}); err != nil {
		t.Fatalf("CreateExchange: %v", err)
	}
	if _, err := h.manager.StartExchange(ctx, exchangeID); err != nil {
		t.Fatalf("StartExchange: %v", err)
	}
}

func TestHappyPathCompletesAfterApproval(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	createAndStart(t, h, "ex-1", "Hi")

	route, _ := h.runner.Registry().Get(ChatDurableRouteID)
	done := make(chan struct{})
	go func() {
		h.runner.Run(ctx, route, "ex-1", "Hi")
		close(done)
	}()

	// Wait for the approval request to land, then approve it.
	deadline := time.After(time.Second)
	for {
		pending, err := h.store.ListPendingApprovals(ctx)
		if err != nil {
			t.Fatalf("ListPendingApprovals: %v", err)
		}
		if len(pending) == 1 {
			if _, err := h.approvals.Approve(ctx, pending[0].ID, "go ahead"); err != nil {
				t.Fatalf("Approve: %v", err)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for a pending approval")
		case <-time.After(5 * time.Millisecond):
		}
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not complete")
	}

	ex, err := h.store.GetExchange(ctx, "ex-1")
	if err != nil {
		t.Fatalf("GetExchange: %v", err)
	}
	if ex.Status != store.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", ex.Status)
	}

	cps, err := h.store.ListCheckpoints(ctx, "ex-1")
	if err != nil {
		t.Fatalf("ListCheckpoints: %v", err)
	}
	wantSteps := []string{"validate-input", "log-request", "before-approval", "approval-gate", "after-approval", "call-llm", "process-response", "update-metrics"}
	if len(cps) != len(wantSteps) {
		t.Fatalf("expected %d checkpoints, got %d: %+v", len(wantSteps), len(cps), cps)
	}
	for i, cp := range cps {
		if cp.StepName != wantSteps[i] {
			t.Fatalf("checkpoint %d: expected step %q, got %q", i, wantSteps[i], cp.StepName)
		}
	}
}

func TestRejectFailsExchangeWithReason(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	createAndStart(t, h, "ex-1", "Hi")

	route, _ := h.runner.Registry().Get(ChatDurableRouteID)
	done := make(chan struct{})
	go func() {
		h.runner.Run(ctx, route, "ex-1", "Hi")
		close(done)
	}()

	deadline := time.After(time.Second)
	for {
		pending, _ := h.store.ListPendingApprovals(ctx)
		if len(pending) == 1 {
			if _, err := h.approvals.Reject(ctx, pending[0].ID, "no"); err != nil {
				t.Fatalf("Reject: %v", err)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for a pending approval")
		case <-time.After(5 * time.Millisecond):
		}
	}

	<-done

	ex, err := h.store.GetExchange(ctx, "ex-1")
	if err != nil {
		t.Fatalf("GetExchange: %v", err)
	}
	if ex.Status != store.StatusFailed {
		t.Fatalf("expected FAILED, got %s", ex.Status)
	}
	if ex.Context != "Approval rejected: no" {
		t.Fatalf("expected rejection reason in context, got %q", ex.Context)
	}
}

func TestEmptyPayloadFailsValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	createAndStart(t, h, "ex-1", "")

	route, _ := h.runner.Registry().Get(ChatDurableRouteID)
	h.runner.Run(ctx, route, "ex-1", "")

	ex, err := h.store.GetExchange(ctx, "ex-1")
	if err != nil {
		t.Fatalf("GetExchange: %v", err)
	}
	if ex.Status != store.StatusFailed {
		t.Fatalf("expected FAILED for empty payload, got %s", ex.Status)
	}

	cps, err := h.store.ListCheckpoints(ctx, "ex-1")
	if err != nil {
		t.Fatalf("ListCheckpoints: %v", err)
	}
	if len(cps) != 0 {
		t.Fatalf("expected no checkpoints for a validation failure, got %d", len(cps))
	}
}

func TestCancelStopsRunnerCleanly(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	createAndStart(t, h, "ex-1", "Hi")

	if _, err := h.manager.Cancel(ctx, "ex-1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	route, _ := h.runner.Registry().Get(ChatDurableRouteID)
	h.runner.Run(ctx, route, "ex-1", "Hi")

	ex, err := h.store.GetExchange(ctx, "ex-1")
	if err != nil {
		t.Fatalf("GetExchange: %v", err)
	}
	if ex.Status != store.StatusCancelled {
		t.Fatalf("expected CANCELLED to remain untouched, got %s", ex.Status)
	}
}

func TestRecoverySkipsAlreadyCheckpointedLLMCall(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	createAndStart(t, h, "ex-1", "Hi")

	// Simulate a prior run that got as far as call-llm, with the approval
	// already decided (recovery must not re-block on it).
	for i, name := range []string{"validate-input", "log-request", "before-approval"} {
		if _, err := h.manager.Checkpoint(ctx, "ex-1", i, name, ""); err != nil {
			t.Fatalf("seed checkpoint %s: %v", name, err)
		}
	}
	if err := h.store.CreateApproval(ctx, store.ApprovalRequest{
		ID: "appr-1", ExchangeID: "ex-1", RouteID: ChatDurableRouteID,
		Status: store.ApprovalPending, Payload: "Hi", CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("CreateApproval: %v", err)
	}
	after, err := h.store.GetExchange(ctx, "ex-1")
	if err != nil {
		t.Fatalf("GetExchange: %v", err)
	}
	after.Status = store.StatusRunning
	if _, err := h.store.DecideApproval(ctx, "appr-1", store.ApprovalApproved, "go ahead", after); err != nil {
		t.Fatalf("DecideApproval: %v", err)
	}
	if _, err := h.manager.Checkpoint(ctx, "ex-1", 3, "approval-gate", ""); err != nil {
		t.Fatalf("seed checkpoint approval-gate: %v", err)
	}
	if _, err := h.manager.Checkpoint(ctx, "ex-1", 4, "after-approval", ""); err != nil {
		t.Fatalf("seed checkpoint after-approval: %v", err)
	}
	if _, err := h.manager.Checkpoint(ctx, "ex-1", 5, "call-llm", `{"llmResponse":"cached reply"}`); err != nil {
		t.Fatalf("seed checkpoint call-llm: %v", err)
	}

	route, _ := h.runner.Registry().Get(ChatDurableRouteID)
	h.runner.Run(ctx, route, "ex-1", "Hi")

	if h.model.CallCount() != 0 {
		t.Fatalf("expected the LLM not to be called again on recovery, got %d calls", h.model.CallCount())
	}

	ex, err := h.store.GetExchange(ctx, "ex-1")
	if err != nil {
		t.Fatalf("GetExchange: %v", err)
	}
	if ex.Status != store.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", ex.Status)
	}
}
