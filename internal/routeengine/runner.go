package routeengine

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/durableflow/durableflow/internal/apperrors"
	"github.com/durableflow/durableflow/internal/approval"
	"github.com/durableflow/durableflow/internal/metrics"
	"github.com/durableflow/durableflow/internal/statemachine"
	"github.com/durableflow/durableflow/internal/store"
)

// redeliveryAttempts / redeliveryDelay implement spec.md §4.4's "a step
// that throws is subject to at-most-3 redeliveries with ~1s delay".
const (
	redeliveryAttempts = 3
	redeliveryDelay    = time.Second
)

// errWaitingApproval signals that a non-blocking approval gate left the
// exchange in WAITING_APPROVAL; the runner must stop cleanly without
// marking the exchange FAILED, mirroring the shouldContinue==false path.
var errWaitingApproval = errors.New("routeengine: exchange is waiting on a non-blocking approval")

// DurableStepRunner executes a Route's steps in order for one exchange,
// consulting ExchangeStateManager before each step and delegating
// approval gates to ApprovalService (spec.md §4.4).
type DurableStepRunner struct {
	manager   *statemachine.Manager
	approvals *approval.Service
	store     store.Store
	metrics   *metrics.Metrics
	registry  *Registry

	// ApprovalTimeout is the default wait for a blocking approval gate
	// (spec.md §5's default 60 minutes).
	ApprovalTimeout time.Duration
}

// NewDurableStepRunner builds a runner over the given collaborators.
func NewDurableStepRunner(manager *statemachine.Manager, approvals *approval.Service, s store.Store, m *metrics.Metrics, registry *Registry, approvalTimeout time.Duration) *DurableStepRunner {
	return &DurableStepRunner{
		manager:         manager,
		approvals:       approvals,
		store:           s,
		metrics:         m,
		registry:        registry,
		ApprovalTimeout: approvalTimeout,
	}
}

// Registry returns the route registry this runner was built with, used
// by the REST surface and CrashRecoveryService to look up routes by id.
func (r *DurableStepRunner) Registry() *Registry {
	return r.registry
}

// Run executes route for exchangeID from the beginning, honoring
// shouldContinue before each step and skipping already-checkpointed
// side-effectful steps (idempotent recovery). It never returns an error
// to the caller: submission is fire-and-forget (spec.md §4.4); failures
// are recorded by transitioning the exchange to FAILED.
func (r *DurableStepRunner) Run(ctx context.Context, route Route, exchangeID, payload string) {
	rc := &RunContext{ExchangeID: exchangeID, RouteID: route.ID, Payload: payload, Body: map[string]string{}}
	stepIndex := 0

	for _, step := range route.Steps {
		cont, err := r.manager.ShouldContinue(ctx, exchangeID)
		if err != nil || !cont {
			return
		}

		if step.SideEffectful {
			if cp, ok, err := r.store.GetCheckpoint(ctx, exchangeID, step.Name); err == nil && ok {
				loadStepData(rc, cp.StepData)
				stepIndex++
				continue
			}
		}

		if err := r.runStep(ctx, step, rc); err != nil {
			if errors.Is(err, errWaitingApproval) {
				return
			}
			if errors.Is(err, apperrors.ErrApprovalRejected) || errors.Is(err, apperrors.ErrApprovalTimeout) {
				// ApprovalService already committed the FAILED transition.
				return
			}
			r.fail(ctx, exchangeID, step.Name, err)
			return
		}

		created, err := r.manager.Checkpoint(ctx, exchangeID, stepIndex, step.Name, encodeStepData(rc))
		if err != nil {
			r.fail(ctx, exchangeID, step.Name, err)
			return
		}
		if created {
			stepIndex++
			if r.metrics != nil {
				r.metrics.IncCheckpoint(route.ID, step.Name)
			}
		}
	}

	finalContext := encodeStepData(rc)
	if _, err := r.manager.Complete(ctx, exchangeID, finalContext); err != nil {
		return
	}
	// Route outcome success counters are recorded by the route's own
	// "update-metrics" step (spec.md §4.4's metric-update action kind);
	// here only Prometheus is updated to reflect the terminal transition.
	if r.metrics != nil {
		r.metrics.IncRouteOutcome(route.ID, "success")
	}
}

// fail transitions the exchange to FAILED and records the route outcome.
func (r *DurableStepRunner) fail(ctx context.Context, exchangeID, stepName string, cause error) {
	reason := stepName + ": " + cause.Error()
	e, err := r.manager.Fail(ctx, exchangeID, reason)
	if err != nil {
		return
	}
	_ = r.store.RecordRouteOutcome(ctx, e.RouteID, false)
	if r.metrics != nil {
		r.metrics.IncRouteOutcome(e.RouteID, "failure")
	}
}

// runStep executes one step, applying the redelivery policy to
// compute/audit/LLM/metric steps. Approval gates are not redelivered:
// ApprovalService itself owns the wait and its own timeout.
func (r *DurableStepRunner) runStep(ctx context.Context, step Step, rc *RunContext) error {
	if step.Kind == ActionApprovalGate {
		return r.runApprovalGate(ctx, step, rc)
	}

	var lastErr error
	for attempt := 0; attempt <= redeliveryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(redeliveryDelay):
			}
		}
		if lastErr = step.Run(ctx, rc); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (r *DurableStepRunner) runApprovalGate(ctx context.Context, step Step, rc *RunContext) error {
	// On a recovery re-submission the exchange may already carry a
	// decided approval (spec.md §4.5's "approved non-blocking resume");
	// in that case the gate has already been passed and must not create
	// a second PENDING request for the same exchange.
	if existing, err := r.store.GetApprovalByExchange(ctx, rc.ExchangeID); err == nil && existing.Status == store.ApprovalApproved {
		rc.Set("approvalResponse", existing.Response)
		return nil
	}

	payload := ""
	if step.Gate != nil && step.Gate.Payload != nil {
		payload = step.Gate.Payload(rc)
	}

	timeout := r.ApprovalTimeout
	if timeout <= 0 {
		timeout = time.Hour
	}

	blocking := step.Gate == nil || step.Gate.Blocking
	if !blocking {
		_, err := r.approvals.CreateApprovalRequest(ctx, rc.ExchangeID, rc.RouteID, payload)
		if err != nil {
			return err
		}
		// Non-blocking: the route stops cleanly here; recovery resumes it
		// once the approval is decided.
		return errWaitingApproval
	}

	response, err := r.approvals.RequestApproval(ctx, rc.ExchangeID, rc.RouteID, payload, timeout)
	if err != nil {
		return err
	}
	rc.Set("approvalResponse", response)
	return nil
}

func encodeStepData(rc *RunContext) string {
	data, err := json.Marshal(rc.Body)
	if err != nil {
		return ""
	}
	return string(data)
}

func loadStepData(rc *RunContext, stepData string) {
	if stepData == "" {
		return
	}
	var body map[string]string
	if err := json.Unmarshal([]byte(stepData), &body); err != nil {
		return
	}
	for k, v := range body {
		rc.Set(k, v)
	}
}
