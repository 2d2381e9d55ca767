// Package saga sequences named steps against a shared execution context.
// Steps run strictly in declared order; when a critical step fails after its
// retry budget, compensations for every completed step run in reverse order.
// A checkpoint sink receives a full execution snapshot after every step
// transition, which makes crash-time state inspectable and restorable.
package saga

import (
	"context"
	"time"
)

type State string

const (
	StatePending      State = "pending"
	StateRunning      State = "running"
	StateCompensating State = "compensating"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
	StateAborted      State = "aborted"
)

type StepState string

const (
	StepPending     StepState = "pending"
	StepRunning     StepState = "running"
	StepCompleted   StepState = "completed"
	StepFailed      StepState = "failed"
	StepCompensated StepState = "compensated"
	StepSkipped     StepState = "skipped"
)

const DefaultStepTimeout = 60 * time.Second

// ActionFunc runs a step's forward work against the shared context. The
// context map is read-only from the action's point of view: the orchestrator
// merges outputs between step boundaries, never concurrently.
type ActionFunc func(ctx context.Context, sagaCtx map[string]any) (any, error)

// CompensationFunc rolls a completed step back.
type CompensationFunc func(ctx context.Context, sagaCtx map[string]any) error

// Step is immutable once a saga starts. Dependencies name steps that must
// already have completed before this one may run.
type Step struct {
	Name         string
	Action       ActionFunc
	Compensation CompensationFunc
	Timeout      time.Duration
	RetryCount   int
	Critical     bool
	Dependencies []string
}

// NewStep returns a critical step with the default timeout. Flip Critical or
// override fields on the returned value for anything else.
func NewStep(name string, action ActionFunc) Step {
	return Step{
		Name:     name,
		Action:   action,
		Timeout:  DefaultStepTimeout,
		Critical: true,
	}
}

// StepResult records one attempt sequence's outcome, forward or rollback.
type StepResult struct {
	Name      string        `json:"step_name"`
	State     StepState     `json:"state"`
	Output    any           `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`

	// lastErr preserves the causal error for wrapping; not serialized.
	lastErr error
}

// Execution is one saga run. It is owned exclusively by the orchestrator
// until it reaches a terminal state; afterwards callers read it for audit.
type Execution struct {
	ID                  string                `json:"saga_id"`
	State               State                 `json:"state"`
	Steps               []Step                `json:"-"`
	StepResults         map[string]StepResult `json:"step_results"`
	CompensationResults []StepResult          `json:"compensation_results"`
	Context             map[string]any        `json:"context"`
	CreatedAt           time.Time             `json:"created_at"`
	StartedAt           time.Time             `json:"started_at,omitzero"`
	CompletedAt         time.Time             `json:"completed_at,omitzero"`
}

// CheckpointSink receives a snapshot after every step transition. The
// queue's checkpoint stream is one concrete implementation.
type CheckpointSink interface {
	Checkpoint(ctx context.Context, scopeID, step string, data map[string]any) error
}
