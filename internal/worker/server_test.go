package worker

import (
	"context"
	"testing"

	"flowq/internal/domain"
	"flowq/internal/saga"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSagaTaskRejectsMissingSteps(t *testing.T) {
	orch := saga.New(nil)
	registry := saga.NewRegistry()
	registerBuiltinSteps(registry)

	task := domain.Task{ID: "s1", Type: "saga.run", Payload: map[string]any{}}
	err := runSagaTask(context.Background(), orch, registry, task)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no steps")
}

func TestRunSagaTaskRejectsEmptyStepList(t *testing.T) {
	orch := saga.New(nil)
	registry := saga.NewRegistry()
	registerBuiltinSteps(registry)

	task := domain.Task{
		ID:      "s1",
		Type:    "saga.run",
		Payload: map[string]any{"steps": []any{}},
	}
	err := runSagaTask(context.Background(), orch, registry, task)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty step list")
}

func TestRunSagaTaskExecutesResolvedSteps(t *testing.T) {
	orch := saga.New(nil)
	registry := saga.NewRegistry()
	registerBuiltinSteps(registry)

	task := domain.Task{
		ID:   "s1",
		Type: "saga.run",
		Payload: map[string]any{
			"steps": []any{
				map[string]any{"type": "log", "params": map[string]any{"name": "greet", "message": "hi"}},
			},
		},
	}
	require.NoError(t, runSagaTask(context.Background(), orch, registry, task))
}
