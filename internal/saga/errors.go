package saga

import (
	"errors"
	"fmt"
)

var (
	ErrStepTimeout  = errors.New("step timeout")
	ErrNotResumable = errors.New("execution not resumable")
)

// StepTimeoutError reports a single attempt exceeding the step's timeout. A
// timeout is retried exactly like any other attempt failure.
type StepTimeoutError struct {
	Step    string
	Timeout string
}

func (e *StepTimeoutError) Error() string {
	return fmt.Sprintf("step '%s' exceeded timeout of %s", e.Step, e.Timeout)
}

func (e *StepTimeoutError) Is(target error) bool {
	return target == ErrStepTimeout
}

// DependencyError is a violated precondition, not a retryable failure: the
// step it names was never attempted.
type DependencyError struct {
	SagaID  string
	Step    string
	Missing string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("saga '%s': step '%s' requires '%s' to have completed", e.SagaID, e.Step, e.Missing)
}

// StepFailedError wraps the last error of a critical step that exhausted its
// attempts, converting it into a compensation pass.
type StepFailedError struct {
	SagaID   string
	Step     string
	Attempts int
	Cause    error
}

func (e *StepFailedError) Error() string {
	return fmt.Sprintf("saga '%s': step '%s' failed after %d attempts: %v", e.SagaID, e.Step, e.Attempts, e.Cause)
}

func (e *StepFailedError) Unwrap() error {
	return e.Cause
}
