package ports

import (
	"context"
	"time"

	"flowq/internal/domain"
)

// Delivery pairs a decoded task with the stream entry it came from, so the
// caller can acknowledge it later.
type Delivery struct {
	Stream string
	ID     string
	Task   domain.Task
}

type Queue interface {
	// Enqueue appends the task to the stream matching its priority. No
	// internal retry: a transport error surfaces to the caller.
	Enqueue(ctx context.Context, t domain.Task) (string, error)
	// Poll returns up to maxCount deliveries, every available high-priority
	// entry ahead of any low-priority one. Blocks up to block only when both
	// streams are empty; an empty result is not an error.
	Poll(ctx context.Context, consumer string, maxCount int64, block time.Duration) ([]Delivery, error)
	// Ack marks the entry done for the consumer group. Idempotent.
	Ack(ctx context.Context, stream, id string) error
	// ToDeadLetter appends to the dead-letter stream, idempotent on task ID.
	// Acknowledging the source entry is the caller's separate step.
	ToDeadLetter(ctx context.Context, t domain.Task, reason string) error
	DeadLetters(ctx context.Context, limit int64) ([]domain.DeadLetter, error)
	Stats(ctx context.Context) (domain.QueueStats, error)
}

// CheckpointSink receives progress snapshots keyed by an owning execution.
type CheckpointSink interface {
	Checkpoint(ctx context.Context, scopeID, step string, data map[string]any) error
}

type CheckpointLog interface {
	CheckpointSink
	Checkpoints(ctx context.Context, scopeID string) ([]domain.Checkpoint, error)
}

type Recoverer interface {
	// Run redelivers or dead-letters stalled deliveries until ctx is
	// cancelled.
	Run(ctx context.Context) error
}
