// Package approval implements the human-in-the-loop approval gate
// described in spec.md §4.3: a step suspends an exchange until an
// operator approves or rejects it over REST, and the wait survives
// process restarts.
//
// Grounded on graph/scheduler.go's buffered-channel/mutex concurrency
// idiom from the teacher (a bounded channel protected by a mutex guarding
// auxiliary bookkeeping) and on the "pause, resume via API layer" shape
// of the approval stage in other_examples' Soochol-Upal pipeline — adapted
// here from a fire-and-forget pause into a genuine blocking wait so a
// route can call requestApproval and resume in the same goroutine once
// the operator decides.
package approval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/durableflow/durableflow/internal/apperrors"
	"github.com/durableflow/durableflow/internal/eventbus"
	"github.com/durableflow/durableflow/internal/ids"
	"github.com/durableflow/durableflow/internal/statemachine"
	"github.com/durableflow/durableflow/internal/store"
)

// decision is delivered on an approval's completion signal exactly once.
type decision struct {
	approved bool
	response string
}

// Service maintains the process-local approvalId -> completion signal
// mapping (spec.md §4.3, §9 "global mutable state").
type Service struct {
	store   store.Store
	manager *statemachine.Manager
	bus     *eventbus.Bus

	mu      sync.Mutex
	signals map[string]chan decision
}

// New builds a Service over the given store, state manager, and event bus.
func New(s store.Store, manager *statemachine.Manager, bus *eventbus.Bus) *Service {
	return &Service{
		store:   s,
		manager: manager,
		bus:     bus,
		signals: make(map[string]chan decision),
	}
}

func (svc *Service) registerSignal(approvalID string) chan decision {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	ch := make(chan decision, 1)
	svc.signals[approvalID] = ch
	return ch
}

func (svc *Service) takeSignal(approvalID string) (chan decision, bool) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	ch, ok := svc.signals[approvalID]
	return ch, ok
}

func (svc *Service) dropSignal(approvalID string) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	delete(svc.signals, approvalID)
}

func (svc *Service) publish(eventType, exchangeID, routeID string, data map[string]string) {
	if svc.bus == nil {
		return
	}
	svc.bus.Publish(eventbus.Event{
		Type:       eventType,
		RouteID:    routeID,
		ExchangeID: exchangeID,
		Data:       data,
		Timestamp:  time.Now(),
	})
}

// createPendingApproval inserts the PENDING row and atomically transitions
// the exchange to WAITING_APPROVAL (spec.md §4.3 step 1). Shared by both
// the blocking and non-blocking entry points.
func (svc *Service) createPendingApproval(ctx context.Context, exchangeID, routeID, payload string) (store.ApprovalRequest, error) {
	req := store.ApprovalRequest{
		ID:         ids.New(),
		ExchangeID: exchangeID,
		RouteID:    routeID,
		Payload:    payload,
		Status:     store.ApprovalPending,
		CreatedAt:  time.Now(),
	}
	if err := svc.store.CreateApproval(ctx, req); err != nil {
		return store.ApprovalRequest{}, err
	}
	e, err := svc.store.GetExchange(ctx, exchangeID)
	if err == nil {
		svc.manager.EnterWaitingApproval(e)
	}
	svc.publish(eventbus.TypeApprovalRequested, exchangeID, routeID, map[string]string{"approvalId": req.ID})
	return req, nil
}

// RequestApproval implements the blocking variant of spec.md §4.3: the
// caller's goroutine parks on the completion signal until the operator
// decides or timeout elapses.
//
// On grant, it returns the approver's response text. On rejection it
// returns apperrors.ErrApprovalRejected. On timeout, the row is marked
// REJECTED (in its own transaction) and it returns
// apperrors.ErrApprovalTimeout.
func (svc *Service) RequestApproval(ctx context.Context, exchangeID, routeID, payload string, timeout time.Duration) (string, error) {
	req, err := svc.createPendingApproval(ctx, exchangeID, routeID, payload)
	if err != nil {
		return "", err
	}
	ch := svc.registerSignal(req.ID)

	select {
	case d := <-ch:
		if d.approved {
			return d.response, nil
		}
		return "", apperrors.ErrApprovalRejected
	case <-time.After(timeout):
		svc.dropSignal(req.ID)
		if _, err := svc.reject(ctx, req.ID, "Approval timed out", false); err != nil {
			return "", fmt.Errorf("timing out approval %s: %w", req.ID, err)
		}
		return "", apperrors.ErrApprovalTimeout
	case <-ctx.Done():
		svc.dropSignal(req.ID)
		return "", ctx.Err()
	}
}

// CreateApprovalRequest implements the non-blocking variant: it returns
// immediately with the new approval's id, leaving the exchange in
// WAITING_APPROVAL for CrashRecoveryService to resume later.
func (svc *Service) CreateApprovalRequest(ctx context.Context, exchangeID, routeID, payload string) (string, error) {
	req, err := svc.createPendingApproval(ctx, exchangeID, routeID, payload)
	if err != nil {
		return "", err
	}
	return req.ID, nil
}

// Approve commits an APPROVED decision and transitions the exchange back
// to RUNNING, then completes the in-memory signal (spec.md §4.3's
// "signal after commit" ordering guarantee).
func (svc *Service) Approve(ctx context.Context, approvalID, response string) (store.ApprovalRequest, error) {
	decided, err := svc.decide(ctx, approvalID, store.ApprovalApproved, response)
	if err != nil {
		return store.ApprovalRequest{}, err
	}
	svc.publish(eventbus.TypeApprovalDecided, decided.ExchangeID, decided.RouteID, map[string]string{
		"approvalId": decided.ID,
		"status":     store.ApprovalApproved,
	})
	if ch, ok := svc.takeSignal(approvalID); ok {
		ch <- decision{approved: true, response: response}
		svc.dropSignal(approvalID)
	}
	return decided, nil
}

// Reject commits a REJECTED decision, transitions the exchange to FAILED,
// and completes the signal with the rejection.
func (svc *Service) Reject(ctx context.Context, approvalID, reason string) (store.ApprovalRequest, error) {
	return svc.reject(ctx, approvalID, reason, true)
}

func (svc *Service) reject(ctx context.Context, approvalID, reason string, signalWaiter bool) (store.ApprovalRequest, error) {
	decided, err := svc.decide(ctx, approvalID, store.ApprovalRejected, reason)
	if err != nil {
		return store.ApprovalRequest{}, err
	}
	svc.publish(eventbus.TypeApprovalDecided, decided.ExchangeID, decided.RouteID, map[string]string{
		"approvalId": decided.ID,
		"status":     store.ApprovalRejected,
	})
	if signalWaiter {
		if ch, ok := svc.takeSignal(approvalID); ok {
			ch <- decision{approved: false}
			svc.dropSignal(approvalID)
		}
	}
	return decided, nil
}

// decide applies the store's combined approval-decision + exchange
// transition atomically, choosing RUNNING (approve) or FAILED (reject)
// for the exchange.
func (svc *Service) decide(ctx context.Context, approvalID, newStatus, responseOrReason string) (store.ApprovalRequest, error) {
	approval, err := svc.store.GetApproval(ctx, approvalID)
	if err != nil {
		return store.ApprovalRequest{}, err
	}
	if approval.Status != store.ApprovalPending {
		return store.ApprovalRequest{}, apperrors.NewStateError("decide-approval", approval.Status, newStatus)
	}

	exchange, err := svc.store.GetExchange(ctx, approval.ExchangeID)
	if err != nil {
		return store.ApprovalRequest{}, err
	}

	now := time.Now()
	switch newStatus {
	case store.ApprovalApproved:
		exchange.Status = store.StatusRunning
	case store.ApprovalRejected:
		exchange.Status = store.StatusFailed
		exchange.CompletedAt = &now
		exchange.Context = fmt.Sprintf("Approval rejected: %s", responseOrReason)
	}

	return svc.store.DecideApproval(ctx, approvalID, newStatus, responseOrReason, exchange)
}

// RestorePendingApprovals re-installs an in-memory completion signal for
// every still-PENDING approval row, so a later Approve/Reject finds a
// registered signal after a restart (spec.md §4.5). No executor waits on a
// restored signal: a resubmitted route that reaches its gate while the
// approval is still PENDING creates a new approval with its own signal.
func (svc *Service) RestorePendingApprovals(ctx context.Context) (int, error) {
	pending, err := svc.store.ListPendingApprovals(ctx)
	if err != nil {
		return 0, err
	}
	for _, a := range pending {
		svc.registerSignal(a.ID)
	}
	return len(pending), nil
}
