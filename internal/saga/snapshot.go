package saga

import (
	"encoding/json"
	"fmt"
)

// Snapshot renders the execution as a plain map suitable for a checkpoint
// sink. Step closures are not serializable and are deliberately absent.
func (e *Execution) Snapshot() map[string]any {
	b, err := json.Marshal(e)
	if err != nil {
		// Only an unserializable step output can get us here; record that
		// much rather than lose the whole snapshot.
		return map[string]any{
			"saga_id": e.ID,
			"state":   string(e.State),
			"error":   fmt.Sprintf("snapshot encode failed: %v", err),
		}
	}
	var m map[string]any
	_ = json.Unmarshal(b, &m)
	return m
}

// Restore reconstructs an execution from a previously persisted snapshot for
// inspection or resumption. Actions and compensations do not survive the
// round-trip; Resume requires the caller to re-supply step definitions,
// typically via Registry.Resolve.
func Restore(sagaID string, snapshot map[string]any) (*Execution, error) {
	if len(snapshot) == 0 {
		return nil, fmt.Errorf("empty snapshot for saga '%s'", sagaID)
	}
	b, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot for saga '%s': %w", sagaID, err)
	}
	var exec Execution
	if err := json.Unmarshal(b, &exec); err != nil {
		return nil, fmt.Errorf("decode snapshot for saga '%s': %w", sagaID, err)
	}
	if exec.ID == "" {
		exec.ID = sagaID
	}
	if exec.ID != sagaID {
		return nil, fmt.Errorf("snapshot belongs to saga '%s', not '%s'", exec.ID, sagaID)
	}
	if exec.StepResults == nil {
		exec.StepResults = map[string]StepResult{}
	}
	if exec.Context == nil {
		exec.Context = map[string]any{}
	}
	return &exec, nil
}
