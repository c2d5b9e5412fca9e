package routeengine

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/durableflow/durableflow/internal/apperrors"
	"github.com/durableflow/durableflow/internal/llmadapter"
	"github.com/durableflow/durableflow/internal/store"
)

// ChatDurableRouteID names the canonical route from spec.md §4.4.
const ChatDurableRouteID = "chat-durable"

// NewChatDurableRoute builds the canonical "durable chat" route:
// validate-input -> log-request -> before-approval -> <approval gate> ->
// after-approval -> call-llm -> process-response -> update-metrics.
//
// maxPayloadBytes enforces spec.md §4.4's configurable maximum input
// length, counted in characters (runes), not bytes (default 50000).
func NewChatDurableRoute(s store.Store, model llmadapter.ChatModel, maxPayloadBytes int) Route {
	return Route{
		ID: ChatDurableRouteID,
		Steps: []Step{
			{
				Name: "validate-input",
				Kind: ActionCompute,
				Run: func(_ context.Context, rc *RunContext) error {
					if strings.TrimSpace(rc.Payload) == "" {
						return fmt.Errorf("%w: payload must not be empty", apperrors.ErrBadInput)
					}
					if maxPayloadBytes > 0 && utf8.RuneCountInString(rc.Payload) > maxPayloadBytes {
						return fmt.Errorf("%w: payload exceeds maximum length of %d characters", apperrors.ErrBadInput, maxPayloadBytes)
					}
					return nil
				},
			},
			{
				Name: "log-request",
				Kind: ActionAuditLog,
				Run: func(ctx context.Context, rc *RunContext) error {
					return s.AppendRouteLog(ctx, store.RouteLog{
						RouteID:    rc.RouteID,
						ExchangeID: rc.ExchangeID,
						StepName:   "log-request",
						Message:    "received chat request",
					})
				},
			},
			{
				Name: "before-approval",
				Kind: ActionCompute,
				Run: func(_ context.Context, rc *RunContext) error {
					rc.Set("approvalSubject", rc.Payload)
					return nil
				},
			},
			{
				Name: "approval-gate",
				Kind: ActionApprovalGate,
				Gate: &ApprovalGate{
					Blocking: true,
					Payload: func(rc *RunContext) string {
						return rc.Get("approvalSubject")
					},
				},
			},
			{
				Name: "after-approval",
				Kind: ActionAuditLog,
				Run: func(ctx context.Context, rc *RunContext) error {
					return s.AppendRouteLog(ctx, store.RouteLog{
						RouteID:    rc.RouteID,
						ExchangeID: rc.ExchangeID,
						StepName:   "after-approval",
						Message:    "approval granted: " + rc.Get("approvalResponse"),
					})
				},
			},
			{
				Name:          "call-llm",
				Kind:          ActionLLMCall,
				SideEffectful: true,
				Run: func(ctx context.Context, rc *RunContext) error {
					out, err := model.Chat(ctx, []llmadapter.Message{
						{Role: llmadapter.RoleUser, Content: rc.Payload},
					})
					if err != nil {
						return fmt.Errorf("%w: %v", apperrors.ErrExternal, err)
					}
					rc.Set("llmResponse", out.Text)
					return nil
				},
			},
			{
				Name: "process-response",
				Kind: ActionCompute,
				Run: func(_ context.Context, rc *RunContext) error {
					rc.Set("finalResponse", strings.TrimSpace(rc.Get("llmResponse")))
					return nil
				},
			},
			{
				Name: "update-metrics",
				Kind: ActionMetricUpdate,
				Run: func(ctx context.Context, rc *RunContext) error {
					return s.RecordRouteOutcome(ctx, rc.RouteID, true)
				},
			},
		},
	}
}
