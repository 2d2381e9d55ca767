package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"flowq/internal/domain"
	"flowq/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	mu      sync.Mutex
	batches [][]ports.Delivery
	acked   []string
	polls   int
	drained func()
}

func (f *fakeQueue) Enqueue(ctx context.Context, t domain.Task) (string, error) { return "", nil }

func (f *fakeQueue) Poll(ctx context.Context, consumer string, maxCount int64, block time.Duration) ([]ports.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if len(f.batches) == 0 {
		if f.drained != nil {
			f.drained()
		}
		return nil, nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return batch, nil
}

func (f *fakeQueue) Ack(ctx context.Context, stream, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, id)
	return nil
}

func (f *fakeQueue) ToDeadLetter(ctx context.Context, t domain.Task, reason string) error { return nil }

func (f *fakeQueue) DeadLetters(ctx context.Context, limit int64) ([]domain.DeadLetter, error) {
	return nil, nil
}

func (f *fakeQueue) Stats(ctx context.Context) (domain.QueueStats, error) {
	return domain.QueueStats{}, nil
}

func TestConsumerAcksOnlySuccessfulTasks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := &fakeQueue{
		batches: [][]ports.Delivery{{
			{Stream: "s", ID: "1-0", Task: domain.Task{ID: "ok", Type: "job"}},
			{Stream: "s", ID: "2-0", Task: domain.Task{ID: "bad", Type: "job"}},
		}},
		drained: cancel,
	}

	c := Consumer{Q: q, ConsumerName: "w1", MaxCount: 10}
	err := c.Run(ctx, func(ctx context.Context, task domain.Task) error {
		if task.ID == "bad" {
			return errors.New("handler failure")
		}
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)

	// The failed delivery stays unacked for the recovery loop.
	assert.Equal(t, []string{"1-0"}, q.acked)
}

func TestConsumerStopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := Consumer{Q: &fakeQueue{}, ConsumerName: "w1"}
	err := c.Run(ctx, func(ctx context.Context, task domain.Task) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

type failingQueue struct {
	fakeQueue
	fails int
}

func (f *failingQueue) Poll(ctx context.Context, consumer string, maxCount int64, block time.Duration) ([]ports.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.polls > f.fails {
		if f.drained != nil {
			f.drained()
		}
		return nil, nil
	}
	return nil, errors.New("transport down")
}

func TestConsumerBacksOffOnPollErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := &failingQueue{fails: 2}
	q.drained = cancel

	c := Consumer{
		Q:            q,
		ConsumerName: "w1",
		BaseBackoff:  time.Millisecond,
		MaxBackoff:   5 * time.Millisecond,
	}
	err := c.Run(ctx, func(ctx context.Context, task domain.Task) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
	assert.GreaterOrEqual(t, q.polls, 3)
}
