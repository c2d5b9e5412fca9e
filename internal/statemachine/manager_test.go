package statemachine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/durableflow/durableflow/internal/apperrors"
	"github.com/durableflow/durableflow/internal/eventbus"
	"github.com/durableflow/durableflow/internal/store"
)

func newTestManager(t *testing.T) (*Manager, store.Store) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return New(s, eventbus.New()), s
}

func TestStartExchangeTransitionsToRunning(t *testing.T) {
	ctx := context.Background()
	m, s := newTestManager(t)

	e := store.ExchangeState{ExchangeID: "ex-1", RouteID: "chat", Payload: "hi", CreatedAt: time.Now(), LastCheckpoint: time.Now()}
	if err := m.CreatePending(ctx, e); err != nil {
		t.Fatalf("CreatePending: %v", err)
	}

	got, err := m.StartExchange(ctx, "ex-1")
	if err != nil {
		t.Fatalf("StartExchange: %v", err)
	}
	if got.Status != store.StatusRunning || got.StartedAt == nil {
		t.Fatalf("expected RUNNING with StartedAt set, got %+v", got)
	}

	persisted, err := s.GetExchange(ctx, "ex-1")
	if err != nil {
		t.Fatalf("GetExchange: %v", err)
	}
	if persisted.Status != store.StatusRunning {
		t.Fatalf("expected persisted status RUNNING, got %s", persisted.Status)
	}
}

func TestIllegalTransitionIsRejected(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	e := store.ExchangeState{ExchangeID: "ex-1", RouteID: "chat", Payload: "hi", CreatedAt: time.Now(), LastCheckpoint: time.Now()}
	if err := m.CreatePending(ctx, e); err != nil {
		t.Fatalf("CreatePending: %v", err)
	}

	// Cannot pause a PENDING exchange.
	if _, err := m.Pause(ctx, "ex-1"); !errors.Is(err, apperrors.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestCompletingTerminalExchangeFails(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	e := store.ExchangeState{ExchangeID: "ex-1", RouteID: "chat", Payload: "hi", CreatedAt: time.Now(), LastCheckpoint: time.Now()}
	_ = m.CreatePending(ctx, e)
	_, _ = m.StartExchange(ctx, "ex-1")
	if _, err := m.Complete(ctx, "ex-1", "done"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if _, err := m.Complete(ctx, "ex-1", "done again"); !errors.Is(err, apperrors.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState re-completing a terminal exchange, got %v", err)
	}
}

func TestFailReachableFromAnyNonTerminalState(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	e := store.ExchangeState{ExchangeID: "ex-1", RouteID: "chat", Payload: "hi", CreatedAt: time.Now(), LastCheckpoint: time.Now()}
	_ = m.CreatePending(ctx, e)

	got, err := m.Fail(ctx, "ex-1", "boom")
	if err != nil {
		t.Fatalf("Fail from PENDING: %v", err)
	}
	if got.Status != store.StatusFailed || got.Context != "boom" {
		t.Fatalf("expected FAILED with reason recorded, got %+v", got)
	}
}

func TestCheckpointIdempotentAndShouldContinue(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	e := store.ExchangeState{ExchangeID: "ex-1", RouteID: "chat", Payload: "hi", CreatedAt: time.Now(), LastCheckpoint: time.Now()}
	_ = m.CreatePending(ctx, e)
	_, _ = m.StartExchange(ctx, "ex-1")

	cont, err := m.ShouldContinue(ctx, "ex-1")
	if err != nil || !cont {
		t.Fatalf("expected shouldContinue=true for RUNNING, got %v err=%v", cont, err)
	}

	created, err := m.Checkpoint(ctx, "ex-1", 0, "validate-input", "")
	if err != nil || !created {
		t.Fatalf("expected first checkpoint created=true, got %v err=%v", created, err)
	}

	created, err = m.Checkpoint(ctx, "ex-1", 0, "validate-input", "")
	if err != nil || created {
		t.Fatalf("expected repeat checkpoint created=false, got %v err=%v", created, err)
	}

	if _, err := m.Cancel(ctx, "ex-1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	cont, err = m.ShouldContinue(ctx, "ex-1")
	if err != nil || cont {
		t.Fatalf("expected shouldContinue=false after CANCELLED, got %v err=%v", cont, err)
	}
}

func TestPauseResumeCycle(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	e := store.ExchangeState{ExchangeID: "ex-1", RouteID: "chat", Payload: "hi", CreatedAt: time.Now(), LastCheckpoint: time.Now()}
	_ = m.CreatePending(ctx, e)
	_, _ = m.StartExchange(ctx, "ex-1")

	if _, err := m.Pause(ctx, "ex-1"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if _, err := m.Resume(ctx, "ex-1"); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	cont, err := m.ShouldContinue(ctx, "ex-1")
	if err != nil || !cont {
		t.Fatalf("expected shouldContinue=true after resume, got %v err=%v", cont, err)
	}
}
