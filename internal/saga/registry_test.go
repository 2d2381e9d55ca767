package saga

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reserveFactory(params map[string]any) (Step, error) {
	sku, _ := params["sku"].(string)
	if sku == "" {
		return Step{}, fmt.Errorf("sku is required")
	}
	return NewStep("reserve-"+sku, func(ctx context.Context, sagaCtx map[string]any) (any, error) {
		return sku, nil
	}), nil
}

func TestRegistryResolvePreservesOrder(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("reserve", reserveFactory))

	steps, err := reg.Resolve([]StepRef{
		{Type: "reserve", Params: map[string]any{"sku": "one"}},
		{Type: "reserve", Params: map[string]any{"sku": "two"}},
	})
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "reserve-one", steps[0].Name)
	assert.Equal(t, "reserve-two", steps[1].Name)
	assert.True(t, steps[0].Critical)
}

func TestRegistryRejectsDuplicatesAndUnknowns(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("reserve", reserveFactory))
	assert.Error(t, reg.Register("reserve", reserveFactory))
	assert.Error(t, reg.Register("", reserveFactory))

	_, err := reg.Resolve([]StepRef{{Type: "release"}})
	assert.Error(t, err)

	_, err = reg.Resolve([]StepRef{{Type: "reserve"}})
	assert.Error(t, err)
}

func TestResolvedStepsRunAsSaga(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("reserve", reserveFactory))

	steps, err := reg.Resolve([]StepRef{{Type: "reserve", Params: map[string]any{"sku": "one"}}})
	require.NoError(t, err)

	orch := fastOrchestrator(nil)
	exec, err := orch.Execute(context.Background(), "", steps, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, exec.ID)
	assert.Equal(t, StateCompleted, exec.State)
	assert.Equal(t, "one", exec.Context["reserve-one"])
}
