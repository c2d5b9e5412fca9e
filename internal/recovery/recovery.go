// Package recovery implements CrashRecoveryService (spec.md §4.5): a
// startup sweep plus three periodic ticks that find abandoned RUNNING
// exchanges and resubmit them, restore approval waiters, flag stalled
// runs, and auto-reject approvals that have waited too long.
//
// Grounded on the teacher's graph/engine.go ticker/workerCtx/cancel shape
// (a background goroutine selecting on a ticker channel against a
// cancelable context) and on examples/human_in_the_loop's pause/resume
// flow for what "resubmit through the recovery entry point" means in
// practice.
package recovery

import (
	"context"
	"sync"
	"time"

	"github.com/durableflow/durableflow/internal/approval"
	"github.com/durableflow/durableflow/internal/eventbus"
	"github.com/durableflow/durableflow/internal/routeengine"
	"github.com/durableflow/durableflow/internal/statemachine"
	"github.com/durableflow/durableflow/internal/store"
)

const (
	approvedResumeInterval = 30 * time.Second
	stalledScanInterval    = 5 * time.Minute
	timeoutScanInterval    = 10 * time.Minute

	stalledThreshold = 30 * time.Minute
	approvalMaxWait  = 60 * time.Minute

	scanPageSize = 500
)

// Service runs the periodic recovery ticks described in spec.md §4.5.
type Service struct {
	store     store.Store
	manager   *statemachine.Manager
	approvals *approval.Service
	runner    *routeengine.DurableStepRunner
	bus       *eventbus.Bus

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Service over the given collaborators.
func New(s store.Store, manager *statemachine.Manager, approvals *approval.Service, runner *routeengine.DurableStepRunner, bus *eventbus.Bus) *Service {
	return &Service{store: s, manager: manager, approvals: approvals, runner: runner, bus: bus}
}

// OnStartup re-submits every RUNNING exchange through the engine's
// recovery path and restores in-memory approval signals for every
// PENDING approval (spec.md §4.5 "startup recovery"). It returns once the
// sweep has been scheduled; route execution continues asynchronously.
func (s *Service) OnStartup(ctx context.Context) error {
	running, _, err := s.store.ListExchanges(ctx, store.ExchangeFilter{Status: store.StatusRunning, Limit: scanPageSize})
	if err != nil {
		return err
	}
	for _, e := range running {
		s.publish(eventbus.TypeExchangeRecovering, e, nil)
		s.resubmit(e)
	}

	if _, err := s.approvals.RestorePendingApprovals(ctx); err != nil {
		return err
	}
	return nil
}

// Start launches the three background ticks. Call Stop to shut them down.
func (s *Service) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(3)
	go s.tickLoop(runCtx, approvedResumeInterval, s.resumeApprovedNonBlocking)
	go s.tickLoop(runCtx, stalledScanInterval, s.scanStalled)
	go s.tickLoop(runCtx, timeoutScanInterval, s.scanApprovalTimeouts)
}

// Stop cancels the background ticks and waits for them to exit.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Service) tickLoop(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

// resumeApprovedNonBlocking implements spec.md §4.5's "approved
// non-blocking resume": a WAITING_APPROVAL exchange with no PENDING
// approval but a matching APPROVED row is moved back to RUNNING and
// resubmitted.
func (s *Service) resumeApprovedNonBlocking(ctx context.Context) {
	waiting, _, err := s.store.ListExchanges(ctx, store.ExchangeFilter{Status: store.StatusWaitingApproval, Limit: scanPageSize})
	if err != nil {
		return
	}
	for _, e := range waiting {
		a, err := s.store.GetApprovalByExchange(ctx, e.ExchangeID)
		if err != nil || a.Status != store.ApprovalApproved {
			continue
		}
		if _, err := s.manager.Resume(ctx, e.ExchangeID); err != nil {
			continue
		}
		s.resubmit(e)
	}
}

// scanStalled implements spec.md §4.5's "stalled scan": any RUNNING
// exchange whose lastCheckpoint is older than stalledThreshold is
// flagged with EXCHANGE_STALLED; no automatic transition.
func (s *Service) scanStalled(ctx context.Context) {
	running, _, err := s.store.ListExchanges(ctx, store.ExchangeFilter{Status: store.StatusRunning, Limit: scanPageSize})
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-stalledThreshold)
	for _, e := range running {
		if e.LastCheckpoint.Before(cutoff) {
			s.publish(eventbus.TypeExchangeStalled, e, nil)
		}
	}
}

// scanApprovalTimeouts implements spec.md §4.5's "timeout scan": any
// PENDING approval older than approvalMaxWait is auto-rejected.
func (s *Service) scanApprovalTimeouts(ctx context.Context) {
	pending, err := s.store.ListPendingApprovals(ctx)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-approvalMaxWait)
	for _, a := range pending {
		if a.CreatedAt.Before(cutoff) {
			_, _ = s.approvals.Reject(ctx, a.ID, "Approval timed out")
		}
	}
}

// resubmit looks up e's route and re-runs it from the beginning in its
// own goroutine; already-checkpointed steps are skipped or short-circuited
// by DurableStepRunner's idempotent-recovery logic (spec.md §4.4).
func (s *Service) resubmit(e store.ExchangeState) {
	route, ok := s.runner.Registry().Get(e.RouteID)
	if !ok {
		return
	}
	go s.runner.Run(context.Background(), route, e.ExchangeID, e.Payload)
}

func (s *Service) publish(eventType string, e store.ExchangeState, data map[string]string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{
		Type:       eventType,
		RouteID:    e.RouteID,
		ExchangeID: e.ExchangeID,
		Data:       data,
		Timestamp:  time.Now(),
	})
}
