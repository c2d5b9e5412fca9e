package httpapi

import (
	"time"

	"github.com/durableflow/durableflow/internal/store"
)

// exchangeDTO is the wire representation of store.ExchangeState (spec.md §6).
type exchangeDTO struct {
	ExchangeID      string     `json:"exchangeId"`
	RouteID         string     `json:"routeId"`
	Status          string     `json:"status"`
	CurrentStep     int        `json:"currentStep"`
	CurrentStepName string     `json:"currentStepName,omitempty"`
	Payload         string     `json:"payload"`
	Context         string     `json:"context,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	LastCheckpoint  time.Time  `json:"lastCheckpoint"`
}

func toExchangeDTO(e store.ExchangeState) exchangeDTO {
	return exchangeDTO{
		ExchangeID:      e.ExchangeID,
		RouteID:         e.RouteID,
		Status:          e.Status,
		CurrentStep:     e.CurrentStep,
		CurrentStepName: e.CurrentStepName,
		Payload:         e.Payload,
		Context:         e.Context,
		CreatedAt:       e.CreatedAt,
		StartedAt:       e.StartedAt,
		CompletedAt:     e.CompletedAt,
		LastCheckpoint:  e.LastCheckpoint,
	}
}

type checkpointDTO struct {
	StepIndex int       `json:"stepIndex"`
	StepName  string    `json:"stepName"`
	StepData  string    `json:"stepData,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func toCheckpointDTO(c store.ExchangeCheckpoint) checkpointDTO {
	return checkpointDTO{StepIndex: c.StepIndex, StepName: c.StepName, StepData: c.StepData, Timestamp: c.Timestamp}
}

type approvalDTO struct {
	ID          string     `json:"id"`
	ExchangeID  string     `json:"exchangeId"`
	RouteID     string     `json:"routeId"`
	Payload     string     `json:"payload"`
	Status      string     `json:"status"`
	Response    string     `json:"response,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

func toApprovalDTO(a store.ApprovalRequest) approvalDTO {
	return approvalDTO{
		ID:          a.ID,
		ExchangeID:  a.ExchangeID,
		RouteID:     a.RouteID,
		Payload:     a.Payload,
		Status:      a.Status,
		Response:    a.Response,
		CreatedAt:   a.CreatedAt,
		CompletedAt: a.CompletedAt,
	}
}

type routeLogDTO struct {
	RouteID    string    `json:"routeId"`
	ExchangeID string    `json:"exchangeId"`
	StepName   string    `json:"stepName"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"createdAt"`
}

func toRouteLogDTO(l store.RouteLog) routeLogDTO {
	return routeLogDTO{RouteID: l.RouteID, ExchangeID: l.ExchangeID, StepName: l.StepName, Message: l.Message, CreatedAt: l.CreatedAt}
}

type routeMetricDTO struct {
	RouteID      string    `json:"routeId"`
	TotalCount   int64     `json:"totalCount"`
	SuccessCount int64     `json:"successCount"`
	FailureCount int64     `json:"failureCount"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func toRouteMetricDTO(m store.RouteMetric) routeMetricDTO {
	return routeMetricDTO{RouteID: m.RouteID, TotalCount: m.TotalCount, SuccessCount: m.SuccessCount, FailureCount: m.FailureCount, UpdatedAt: m.UpdatedAt}
}

var validExchangeStatuses = map[string]bool{
	store.StatusPending:         true,
	store.StatusRunning:         true,
	store.StatusPaused:          true,
	store.StatusWaitingApproval: true,
	store.StatusCompleted:       true,
	store.StatusFailed:          true,
	store.StatusCancelled:       true,
}
