package saga

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Orchestrator runs sagas sequentially. Instances are safe for concurrent
// use: each Execute call owns its Execution exclusively.
type Orchestrator struct {
	sink CheckpointSink

	// backoff is attempt-count based, overridable in tests.
	backoff func(retry int) time.Duration
}

func New(sink CheckpointSink) *Orchestrator {
	return &Orchestrator{
		sink:    sink,
		backoff: backoffDelay,
	}
}

// backoffDelay sleeps 2^retry seconds between attempts, unjittered.
func backoffDelay(retry int) time.Duration {
	return time.Duration(1<<retry) * time.Second
}

// Execute runs the steps in declared order against a copy of initial. The
// returned Execution is always non-nil and terminal; the error is non-nil
// whenever the saga did not complete.
func (o *Orchestrator) Execute(ctx context.Context, sagaID string, steps []Step, initial map[string]any) (*Execution, error) {
	if sagaID == "" {
		sagaID = uuid.NewString()
	}
	sagaCtx := make(map[string]any, len(initial))
	for k, v := range initial {
		sagaCtx[k] = v
	}
	exec := &Execution{
		ID:          sagaID,
		State:       StatePending,
		Steps:       steps,
		StepResults: make(map[string]StepResult, len(steps)),
		Context:     sagaCtx,
		CreatedAt:   time.Now(),
	}
	return exec, o.run(ctx, exec)
}

// Resume continues a restored execution. Checkpoints cannot carry action or
// compensation closures, so the caller re-supplies the step definitions,
// typically resolved through a Registry. Steps already recorded COMPLETED
// are skipped.
func (o *Orchestrator) Resume(ctx context.Context, exec *Execution, steps []Step) error {
	switch exec.State {
	case StatePending, StateRunning:
	default:
		return ErrNotResumable
	}
	exec.Steps = steps
	// Checkpoints are written before a step's output is merged, so a
	// restored context may be missing the last completed step's output.
	for name, res := range exec.StepResults {
		if res.State != StepCompleted {
			continue
		}
		if _, ok := exec.Context[name]; !ok {
			exec.Context[name] = res.Output
		}
	}
	return o.run(ctx, exec)
}

func (o *Orchestrator) run(ctx context.Context, exec *Execution) error {
	exec.State = StateRunning
	if exec.StartedAt.IsZero() {
		exec.StartedAt = time.Now()
	}
	o.checkpoint(ctx, exec, "saga_started")

	var runErr error
	for i := range exec.Steps {
		step := normalize(exec.Steps[i])

		if prev, ok := exec.StepResults[step.Name]; ok && prev.State == StepCompleted {
			continue
		}
		if err := ctx.Err(); err != nil {
			return o.abort(ctx, exec, err)
		}

		if missing := o.missingDependency(exec, step); missing != "" {
			// The step was never attempted, so it leaves no result entry.
			runErr = &DependencyError{SagaID: exec.ID, Step: step.Name, Missing: missing}
			break
		}

		res := o.runStep(ctx, exec, step)
		exec.StepResults[step.Name] = res
		o.checkpoint(ctx, exec, step.Name)

		if err := ctx.Err(); err != nil {
			return o.abort(ctx, exec, err)
		}

		if res.State == StepFailed {
			if step.Critical {
				runErr = &StepFailedError{
					SagaID:   exec.ID,
					Step:     step.Name,
					Attempts: step.RetryCount + 1,
					Cause:    res.lastErr,
				}
				break
			}
			log.Ctx(ctx).Warn().
				Str("saga_id", exec.ID).
				Str("step", step.Name).
				Str("error", res.Error).
				Msg("non-critical step failed, continuing")
			continue
		}

		// Later steps read earlier outputs under the producing step's name.
		exec.Context[step.Name] = res.Output
	}

	if runErr != nil {
		exec.State = StateCompensating
		o.checkpoint(ctx, exec, "compensation_started")
		o.compensate(ctx, exec)
		exec.State = StateFailed
		exec.CompletedAt = time.Now()
		o.checkpoint(ctx, exec, "saga_failed")
		return runErr
	}

	exec.State = StateCompleted
	exec.CompletedAt = time.Now()
	o.checkpoint(ctx, exec, "saga_completed")
	return nil
}

func normalize(s Step) Step {
	if s.Timeout <= 0 {
		s.Timeout = DefaultStepTimeout
	}
	return s
}

func (o *Orchestrator) missingDependency(exec *Execution, step Step) string {
	for _, dep := range step.Dependencies {
		if res, ok := exec.StepResults[dep]; !ok || res.State != StepCompleted {
			return dep
		}
	}
	return ""
}

func (o *Orchestrator) abort(ctx context.Context, exec *Execution, cause error) error {
	exec.State = StateAborted
	exec.CompletedAt = time.Now()
	// The sink may still be reachable even though ctx is cancelled.
	o.checkpoint(context.WithoutCancel(ctx), exec, "saga_aborted")
	log.Ctx(ctx).Warn().Str("saga_id", exec.ID).Msg("saga aborted by cancellation")
	return cause
}

func (o *Orchestrator) runStep(ctx context.Context, exec *Execution, step Step) StepResult {
	start := time.Now()
	var lastErr error
	for attempt := 0; attempt <= step.RetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return StepResult{
					Name:      step.Name,
					State:     StepFailed,
					Error:     ctx.Err().Error(),
					Duration:  time.Since(start),
					Timestamp: time.Now(),
					lastErr:   ctx.Err(),
				}
			case <-time.After(o.backoff(attempt)):
			}
			log.Ctx(ctx).Info().
				Str("saga_id", exec.ID).
				Str("step", step.Name).
				Int("attempt", attempt+1).
				Msg("retrying step")
		}

		out, err := runWithTimeout(ctx, step, exec.Context)
		if err == nil {
			return StepResult{
				Name:      step.Name,
				State:     StepCompleted,
				Output:    out,
				Duration:  time.Since(start),
				Timestamp: time.Now(),
			}
		}
		lastErr = err
		log.Ctx(ctx).Warn().
			Err(err).
			Str("saga_id", exec.ID).
			Str("step", step.Name).
			Int("attempt", attempt+1).
			Msg("step attempt failed")
		if ctx.Err() != nil {
			break
		}
	}

	return StepResult{
		Name:      step.Name,
		State:     StepFailed,
		Error:     lastErr.Error(),
		Duration:  time.Since(start),
		Timestamp: time.Now(),
		lastErr:   lastErr,
	}
}

// runWithTimeout bounds a single attempt. The action runs on its own
// goroutine so a hung attempt cannot wedge the saga; it is handed a
// cancelled context and abandoned.
func runWithTimeout(ctx context.Context, step Step, sagaCtx map[string]any) (any, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, step.Timeout)
	defer cancel()

	type result struct {
		out any
		err error
	}
	ch := make(chan result, 1)
	go func() {
		out, err := step.Action(attemptCtx, sagaCtx)
		ch <- result{out, err}
	}()

	select {
	case res := <-ch:
		return res.out, res.err
	case <-attemptCtx.Done():
		if attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, &StepTimeoutError{Step: step.Name, Timeout: step.Timeout.String()}
		}
		return nil, attemptCtx.Err()
	}
}

// compensate walks the declared steps in reverse and rolls back every one
// whose last recorded result is COMPLETED. Compensations get the step's
// forward timeout and no retries; a failing compensation is recorded and
// never blocks the remaining ones.
func (o *Orchestrator) compensate(ctx context.Context, exec *Execution) {
	for i := len(exec.Steps) - 1; i >= 0; i-- {
		step := normalize(exec.Steps[i])
		res, ok := exec.StepResults[step.Name]
		if !ok || res.State != StepCompleted {
			continue
		}

		if step.Compensation == nil {
			log.Ctx(ctx).Warn().
				Str("saga_id", exec.ID).
				Str("step", step.Name).
				Msg("no compensation defined, skipping")
			exec.CompensationResults = append(exec.CompensationResults, StepResult{
				Name:      step.Name,
				State:     StepSkipped,
				Error:     "no compensation defined",
				Timestamp: time.Now(),
			})
			continue
		}

		start := time.Now()
		err := compensateWithTimeout(ctx, step, exec.Context)
		cr := StepResult{
			Name:      step.Name,
			Duration:  time.Since(start),
			Timestamp: time.Now(),
		}
		if err != nil {
			cr.State = StepFailed
			cr.Error = err.Error()
			log.Ctx(ctx).Error().
				Err(err).
				Str("saga_id", exec.ID).
				Str("step", step.Name).
				Msg("compensation failed")
		} else {
			cr.State = StepCompensated
		}
		exec.CompensationResults = append(exec.CompensationResults, cr)
		o.checkpoint(ctx, exec, "compensate_"+step.Name)
	}
}

func compensateWithTimeout(ctx context.Context, step Step, sagaCtx map[string]any) error {
	attemptCtx, cancel := context.WithTimeout(ctx, step.Timeout)
	defer cancel()

	ch := make(chan error, 1)
	go func() {
		ch <- step.Compensation(attemptCtx, sagaCtx)
	}()

	select {
	case err := <-ch:
		return err
	case <-attemptCtx.Done():
		if attemptCtx.Err() == context.DeadlineExceeded {
			return &StepTimeoutError{Step: step.Name, Timeout: step.Timeout.String()}
		}
		return attemptCtx.Err()
	}
}

func (o *Orchestrator) checkpoint(ctx context.Context, exec *Execution, stage string) {
	if o.sink == nil {
		return
	}
	if err := o.sink.Checkpoint(ctx, exec.ID, stage, exec.Snapshot()); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("saga_id", exec.ID).Str("stage", stage).Msg("checkpoint write failed")
	}
}
