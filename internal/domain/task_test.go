package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskStreamValuesAreFieldByField(t *testing.T) {
	created := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	task := Task{
		ID:             "t1",
		Type:           "report",
		Priority:       PriorityHigh,
		Payload:        map[string]any{"symbol": "BTC", "window": float64(30)},
		CreatedAt:      created,
		RetryCount:     2,
		MaxRetries:     5,
		TimeoutSeconds: 45,
	}

	values, err := task.StreamValues()
	require.NoError(t, err)

	// Individual fields stay inspectable on the stream.
	assert.Equal(t, "t1", values["task_id"])
	assert.Equal(t, "high", values["priority"])
	assert.Equal(t, "2", values["retry_count"])
	assert.Equal(t, "45", values["timeout"])
	assert.Contains(t, values["payload"], "BTC")

	back, err := TaskFromStreamValues(values)
	require.NoError(t, err)
	assert.Equal(t, task.ID, back.ID)
	assert.Equal(t, task.Priority, back.Priority)
	assert.Equal(t, task.Payload, back.Payload)
	assert.True(t, back.CreatedAt.Equal(created))
	assert.Equal(t, task.MaxRetries, back.MaxRetries)
	assert.Equal(t, task.TimeoutSeconds, back.TimeoutSeconds)
}

func TestTaskFromStreamValuesRejectsMissingID(t *testing.T) {
	_, err := TaskFromStreamValues(map[string]any{"type": "report"})
	assert.Error(t, err)
}

func TestDeadLetterCarriesErrorAndTimestamp(t *testing.T) {
	d := DeadLetter{
		Task:     Task{ID: "t1", Type: "report", Priority: PriorityLow},
		Error:    "retry limit exhausted",
		FailedAt: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
	}

	values, err := d.StreamValues()
	require.NoError(t, err)

	back, err := DeadLetterFromStreamValues(values)
	require.NoError(t, err)
	assert.Equal(t, "retry limit exhausted", back.Error)
	assert.True(t, back.FailedAt.Equal(d.FailedAt))
	assert.Equal(t, "t1", back.ID)
}
