package saga

import (
	"context"
	"time"
)

// SagaState represents the current state of a transaction
type SagaState string

const (
	SagaStateStarted     SagaState = "started"
	SagaStateRunning     SagaState = "running"
	SagaStateCompleted   SagaState = "completed"
	SagaStateFailed      SagaState = "failed"
	SagaStateCompensated SagaState = "compensated"
)

// StepState represents the state of an individual step
type StepState string

const (
	StepStatePending     StepState = "pending"
	StepStateRunning     StepState = "running"
	StepStateCompleted   StepState = "completed"
	StepStateFailed      StepState = "failed"
	StepStateCompensated StepState = "compensated"
)

// SagaID uniquely identifies a transaction
type SagaID string

// StepID uniquely identifies a step within a transaction
type StepID string

// SagaData holds the shared data for a transaction
type SagaData map[string]interface{}

// StepResult represents the result of a step execution
type StepResult struct {
	Success bool
	Data    interface{}
	Error   error
}

// Step represents a single step in a transaction. Compensate undoes a
// completed Execute and must tolerate partially acquired resources.
type Step interface {
	ID() StepID
	Execute(ctx context.Context, data SagaData) StepResult
	Compensate(ctx context.Context, data SagaData) error
}

// FuncStep adapts plain functions to the Step interface
type FuncStep struct {
	Name string
	Do   func(ctx context.Context, data SagaData) error
	Undo func(ctx context.Context, data SagaData) error
}

func (s FuncStep) ID() StepID { return StepID(s.Name) }

func (s FuncStep) Execute(ctx context.Context, data SagaData) StepResult {
	if s.Do == nil {
		return StepResult{Success: true}
	}
	if err := s.Do(ctx, data); err != nil {
		return StepResult{Success: false, Error: err}
	}
	return StepResult{Success: true}
}

func (s FuncStep) Compensate(ctx context.Context, data SagaData) error {
	if s.Undo == nil {
		return nil
	}
	return s.Undo(ctx, data)
}

// StepExecution represents the execution state of a step
type StepExecution struct {
	ID          StepID     `json:"id"`
	State       StepState  `json:"state"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// SagaInstance is a snapshot of a transaction
type SagaInstance struct {
	ID          SagaID          `json:"id"`
	State       SagaState       `json:"state"`
	Steps       []StepExecution `json:"steps"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// SagaEvent represents an event in the transaction lifecycle
type SagaEvent struct {
	SagaID    SagaID    `json:"saga_id"`
	StepID    StepID    `json:"step_id,omitempty"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// Event types
const (
	EventSagaStarted     = "saga_started"
	EventSagaCompleted   = "saga_completed"
	EventSagaFailed      = "saga_failed"
	EventSagaCompensated = "saga_compensated"
	EventStepStarted     = "step_started"
	EventStepCompleted   = "step_completed"
	EventStepFailed      = "step_failed"
	EventStepCompensated = "step_compensated"
)
