package usecase

import (
	"context"
	"testing"

	"flowq/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueuerValidatesInput(t *testing.T) {
	e := Enqueuer{Q: &fakeQueue{}}
	ctx := context.Background()

	_, err := e.Enqueue(ctx, domain.Task{Type: "job", Priority: "urgent"})
	assert.Error(t, err)

	_, err = e.Enqueue(ctx, domain.Task{Priority: domain.PriorityHigh})
	assert.Error(t, err)

	_, err = e.Enqueue(ctx, domain.Task{Type: "job", Priority: domain.PriorityHigh})
	require.NoError(t, err)

	_, err = e.Enqueue(ctx, domain.Task{Type: "job"})
	require.NoError(t, err)
}
