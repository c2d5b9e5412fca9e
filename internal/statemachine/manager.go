package statemachine

import (
	"context"
	"strconv"
	"time"

	"github.com/durableflow/durableflow/internal/eventbus"
	"github.com/durableflow/durableflow/internal/store"
)

// Manager owns the exchange lifecycle state machine and the idempotent
// checkpoint log (spec.md §4.2). Every transition is published to the
// event bus under the typed names enumerated there.
type Manager struct {
	store store.Store
	bus   *eventbus.Bus
}

// New builds a Manager over the given store and event bus.
func New(s store.Store, bus *eventbus.Bus) *Manager {
	return &Manager{store: s, bus: bus}
}

func (m *Manager) publish(eventType string, e store.ExchangeState, data map[string]string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(eventbus.Event{
		Type:       eventType,
		RouteID:    e.RouteID,
		ExchangeID: e.ExchangeID,
		Data:       data,
		Timestamp:  time.Now(),
	})
}

// CreatePending inserts a new PENDING exchange and publishes EXCHANGE_CREATED.
func (m *Manager) CreatePending(ctx context.Context, e store.ExchangeState) error {
	if e.Status == "" {
		e.Status = store.StatusPending
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.LastCheckpoint = e.CreatedAt
	if err := m.store.CreateExchange(ctx, e); err != nil {
		return err
	}
	m.publish(eventbus.TypeExchangeCreated, e, nil)
	return nil
}

// StartExchange transitions PENDING -> RUNNING, stamping startedAt and
// publishing EXCHANGE_STARTED (spec.md §4.2 "engine starts work").
func (m *Manager) StartExchange(ctx context.Context, exchangeID string) (store.ExchangeState, error) {
	e, err := m.store.GetExchange(ctx, exchangeID)
	if err != nil {
		return store.ExchangeState{}, err
	}
	if err := legalTransitionOrErr("startExchange", e.Status, store.StatusRunning); err != nil {
		return store.ExchangeState{}, err
	}
	now := time.Now()
	e.Status = store.StatusRunning
	if e.StartedAt == nil {
		e.StartedAt = &now
	}
	e.LastCheckpoint = now
	if err := m.store.TransitionExchange(ctx, e); err != nil {
		return store.ExchangeState{}, err
	}
	m.publish(eventbus.TypeExchangeStarted, e, nil)
	return e, nil
}

// Pause transitions RUNNING -> PAUSED (operator `pause`).
func (m *Manager) Pause(ctx context.Context, exchangeID string) (store.ExchangeState, error) {
	e, err := m.store.GetExchange(ctx, exchangeID)
	if err != nil {
		return store.ExchangeState{}, err
	}
	if err := legalTransitionOrErr("pause", e.Status, store.StatusPaused); err != nil {
		return store.ExchangeState{}, err
	}
	e.Status = store.StatusPaused
	if err := m.store.TransitionExchange(ctx, e); err != nil {
		return store.ExchangeState{}, err
	}
	m.publish(eventbus.TypeExchangePaused, e, nil)
	return e, nil
}

// Resume transitions PAUSED -> RUNNING (operator `resume`). It accepts any
// status with a legal edge to RUNNING, so it also moves PENDING and
// WAITING_APPROVAL exchanges to RUNNING (CrashRecoveryService uses it for
// the latter). The caller is responsible for re-submitting the exchange
// through the recovery entry point after this returns.
func (m *Manager) Resume(ctx context.Context, exchangeID string) (store.ExchangeState, error) {
	e, err := m.store.GetExchange(ctx, exchangeID)
	if err != nil {
		return store.ExchangeState{}, err
	}
	if err := legalTransitionOrErr("resume", e.Status, store.StatusRunning); err != nil {
		return store.ExchangeState{}, err
	}
	e.Status = store.StatusRunning
	if err := m.store.TransitionExchange(ctx, e); err != nil {
		return store.ExchangeState{}, err
	}
	m.publish(eventbus.TypeExchangeResumed, e, nil)
	return e, nil
}

// Cancel transitions any of RUNNING/PAUSED/WAITING_APPROVAL -> CANCELLED.
func (m *Manager) Cancel(ctx context.Context, exchangeID string) (store.ExchangeState, error) {
	e, err := m.store.GetExchange(ctx, exchangeID)
	if err != nil {
		return store.ExchangeState{}, err
	}
	if err := legalTransitionOrErr("cancel", e.Status, store.StatusCancelled); err != nil {
		return store.ExchangeState{}, err
	}
	now := time.Now()
	e.Status = store.StatusCancelled
	e.CompletedAt = &now
	if err := m.store.TransitionExchange(ctx, e); err != nil {
		return store.ExchangeState{}, err
	}
	m.publish(eventbus.TypeExchangeCancelled, e, nil)
	return e, nil
}

// Complete transitions RUNNING -> COMPLETED, storing finalContext (the
// route's result) in the exchange's context field.
func (m *Manager) Complete(ctx context.Context, exchangeID, finalContext string) (store.ExchangeState, error) {
	e, err := m.store.GetExchange(ctx, exchangeID)
	if err != nil {
		return store.ExchangeState{}, err
	}
	if err := legalTransitionOrErr("complete", e.Status, store.StatusCompleted); err != nil {
		return store.ExchangeState{}, err
	}
	now := time.Now()
	e.Status = store.StatusCompleted
	e.CompletedAt = &now
	e.Context = finalContext
	if err := m.store.TransitionExchange(ctx, e); err != nil {
		return store.ExchangeState{}, err
	}
	m.publish(eventbus.TypeExchangeCompleted, e, nil)
	return e, nil
}

// Fail transitions any non-terminal status -> FAILED, recording reason in
// the exchange's context field (spec.md §4.2 "any non-terminal | FAILED").
func (m *Manager) Fail(ctx context.Context, exchangeID, reason string) (store.ExchangeState, error) {
	e, err := m.store.GetExchange(ctx, exchangeID)
	if err != nil {
		return store.ExchangeState{}, err
	}
	if err := legalTransitionOrErr("fail", e.Status, store.StatusFailed); err != nil {
		return store.ExchangeState{}, err
	}
	now := time.Now()
	e.Status = store.StatusFailed
	e.CompletedAt = &now
	e.Context = reason
	if err := m.store.TransitionExchange(ctx, e); err != nil {
		return store.ExchangeState{}, err
	}
	m.publish(eventbus.TypeExchangeFailed, e, map[string]string{"reason": reason})
	return e, nil
}

// EnterWaitingApproval publishes EXCHANGE_WAITING_APPROVAL for e without
// writing to the store (the status change itself is committed by
// Store.CreateApproval). The event is the exchange-level counterpart to the
// approval-level APPROVAL_REQUESTED event ApprovalService publishes
// separately. Exposed so ApprovalService can publish a consistent event
// after the store commits the combined approval-insert/exchange-transition
// in CreateApproval.
func (m *Manager) EnterWaitingApproval(e store.ExchangeState) {
	e.Status = store.StatusWaitingApproval
	m.publish(eventbus.TypeExchangeWaitingApproval, e, nil)
}

// Checkpoint implements spec.md §4.2's checkpoint contract: idempotent on
// (exchangeId, stepName), publishes EXCHANGE_CHECKPOINT only when a new
// row is actually inserted.
func (m *Manager) Checkpoint(ctx context.Context, exchangeID string, stepIndex int, stepName, stepData string) (bool, error) {
	created, err := m.store.InsertCheckpoint(ctx, exchangeID, stepIndex, stepName, stepData)
	if err != nil {
		return false, err
	}
	if created {
		m.bus.Publish(eventbus.Event{
			Type:       eventbus.TypeExchangeCheckpoint,
			ExchangeID: exchangeID,
			Data:       map[string]string{"stepName": stepName, "stepIndex": strconv.Itoa(stepIndex)},
			Timestamp:  time.Now(),
		})
	}
	return created, nil
}

// ShouldContinue reports whether the engine may execute the next step of
// exchangeID: true iff status ∈ {RUNNING, WAITING_APPROVAL}.
func (m *Manager) ShouldContinue(ctx context.Context, exchangeID string) (bool, error) {
	e, err := m.store.GetExchange(ctx, exchangeID)
	if err != nil {
		return false, err
	}
	return e.Status == store.StatusRunning || e.Status == store.StatusWaitingApproval, nil
}
