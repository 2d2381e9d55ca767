package usecase

import (
	"context"
	"fmt"

	"flowq/internal/domain"
	"flowq/internal/ports"
)

type Enqueuer struct {
	Q ports.Queue
}

func (e Enqueuer) Enqueue(ctx context.Context, t domain.Task) (string, error) {
	switch t.Priority {
	case "", domain.PriorityHigh, domain.PriorityLow:
	default:
		return "", fmt.Errorf("unknown priority %q", t.Priority)
	}
	if t.Type == "" {
		return "", fmt.Errorf("task type is required")
	}
	return e.Q.Enqueue(ctx, t)
}
