package saga

import (
	"fmt"
	"sync"
)

// StepRef names a registered step type plus its parameters. Unlike a Step it
// is fully serializable, so saga definitions carried in checkpoints or task
// payloads can be replayed against a process-local registry.
type StepRef struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// StepFactory builds a concrete Step from a ref's parameters.
type StepFactory func(params map[string]any) (Step, error)

type Registry struct {
	mu        sync.RWMutex
	factories map[string]StepFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]StepFactory)}
}

func (r *Registry) Register(stepType string, f StepFactory) error {
	if stepType == "" || f == nil {
		return fmt.Errorf("step type and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[stepType]; exists {
		return fmt.Errorf("step type '%s' already registered", stepType)
	}
	r.factories[stepType] = f
	return nil
}

// Resolve turns refs into executable steps, preserving order.
func (r *Registry) Resolve(refs []StepRef) ([]Step, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	steps := make([]Step, 0, len(refs))
	for _, ref := range refs {
		f, ok := r.factories[ref.Type]
		if !ok {
			return nil, fmt.Errorf("unknown step type '%s'", ref.Type)
		}
		step, err := f(ref.Params)
		if err != nil {
			return nil, fmt.Errorf("build step '%s': %w", ref.Type, err)
		}
		steps = append(steps, step)
	}
	return steps, nil
}
