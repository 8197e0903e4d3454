package saga

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Transaction executes steps in order and keeps the completed ones so they
// can be compensated in reverse order, either when a later step fails or when
// the owner tears everything down.
type Transaction struct {
	id       SagaID
	logger   *zap.Logger
	data     SagaData
	observer func(SagaEvent)

	mu        sync.Mutex
	state     SagaState
	completed []Step
	steps     []StepExecution
	startedAt time.Time
	endedAt   *time.Time
	lastError string
}

// NewTransaction creates an empty transaction
func NewTransaction(id string, logger *zap.Logger) *Transaction {
	return &Transaction{
		id:        SagaID(id),
		logger:    logger,
		data:      make(SagaData),
		state:     SagaStateStarted,
		startedAt: time.Now(),
	}
}

// OnEvent registers an observer for lifecycle events
func (t *Transaction) OnEvent(fn func(SagaEvent)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observer = fn
}

// Data returns the shared data map
func (t *Transaction) Data() SagaData {
	return t.data
}

// Run executes steps sequentially. If one fails, every step completed by
// this transaction so far is compensated and the step error is returned.
func (t *Transaction) Run(ctx context.Context, steps ...Step) error {
	t.setState(SagaStateRunning)
	t.emit(SagaEvent{Type: EventSagaStarted})

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			t.fail(step.ID(), err)
			t.Compensate(context.WithoutCancel(ctx))
			return fmt.Errorf("transaction cancelled before %s: %w", step.ID(), err)
		}

		if err := t.executeStep(ctx, step); err != nil {
			t.logger.Error("Step failed",
				zap.String("sagaID", string(t.id)),
				zap.String("stepID", string(step.ID())),
				zap.Error(err))

			t.fail(step.ID(), err)
			t.Compensate(context.WithoutCancel(ctx))
			return fmt.Errorf("step %s failed: %w", step.ID(), err)
		}
	}

	t.mu.Lock()
	t.state = SagaStateCompleted
	t.mu.Unlock()
	t.emit(SagaEvent{Type: EventSagaCompleted})
	return nil
}

// executeStep executes a single step
func (t *Transaction) executeStep(ctx context.Context, step Step) error {
	now := time.Now()
	t.mu.Lock()
	t.steps = append(t.steps, StepExecution{ID: step.ID(), State: StepStateRunning, StartedAt: &now})
	index := len(t.steps) - 1
	t.mu.Unlock()

	t.emit(SagaEvent{StepID: step.ID(), Type: EventStepStarted})

	result := step.Execute(ctx, t.data)

	done := time.Now()
	t.mu.Lock()
	t.steps[index].CompletedAt = &done
	if !result.Success {
		t.steps[index].State = StepStateFailed
		if result.Error != nil {
			t.steps[index].Error = result.Error.Error()
		}
		t.mu.Unlock()

		err := result.Error
		if err == nil {
			err = fmt.Errorf("step %s reported failure", step.ID())
		}
		t.emit(SagaEvent{StepID: step.ID(), Type: EventStepFailed, Error: err.Error()})
		return err
	}
	t.steps[index].State = StepStateCompleted
	t.completed = append(t.completed, step)
	t.mu.Unlock()

	t.emit(SagaEvent{StepID: step.ID(), Type: EventStepCompleted})
	t.logger.Debug("Step completed",
		zap.String("sagaID", string(t.id)),
		zap.String("stepID", string(step.ID())))
	return nil
}

// Compensate undoes completed steps in reverse order. Compensation errors are
// logged and do not stop the remaining steps. Calling it again is a no-op.
func (t *Transaction) Compensate(ctx context.Context) {
	t.mu.Lock()
	completed := t.completed
	t.completed = nil
	t.mu.Unlock()

	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]

		if err := step.Compensate(ctx, t.data); err != nil {
			t.logger.Warn("Compensation failed",
				zap.String("sagaID", string(t.id)),
				zap.String("stepID", string(step.ID())),
				zap.Error(err))
			continue
		}

		t.markStep(step.ID(), StepStateCompensated)
		t.emit(SagaEvent{StepID: step.ID(), Type: EventStepCompensated})
	}

	if len(completed) == 0 {
		return
	}

	now := time.Now()
	t.mu.Lock()
	t.state = SagaStateCompensated
	t.endedAt = &now
	t.mu.Unlock()

	t.emit(SagaEvent{Type: EventSagaCompensated})
	t.logger.Debug("Transaction compensated",
		zap.String("sagaID", string(t.id)),
		zap.Int("steps", len(completed)))
}

// State returns the transaction state
func (t *Transaction) State() SagaState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Snapshot returns a copy of the transaction bookkeeping
func (t *Transaction) Snapshot() SagaInstance {
	t.mu.Lock()
	defer t.mu.Unlock()
	steps := make([]StepExecution, len(t.steps))
	copy(steps, t.steps)
	return SagaInstance{
		ID:          t.id,
		State:       t.state,
		Steps:       steps,
		StartedAt:   t.startedAt,
		CompletedAt: t.endedAt,
		Error:       t.lastError,
	}
}

func (t *Transaction) fail(stepID StepID, err error) {
	t.mu.Lock()
	t.state = SagaStateFailed
	t.lastError = err.Error()
	t.mu.Unlock()
	t.emit(SagaEvent{StepID: stepID, Type: EventSagaFailed, Error: err.Error()})
}

func (t *Transaction) setState(state SagaState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = state
}

func (t *Transaction) markStep(id StepID, state StepState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.steps {
		if t.steps[i].ID == id {
			t.steps[i].State = state
		}
	}
}

func (t *Transaction) emit(event SagaEvent) {
	t.mu.Lock()
	observer := t.observer
	t.mu.Unlock()
	if observer == nil {
		return
	}
	event.SagaID = t.id
	event.Timestamp = time.Now()
	observer(event)
}
