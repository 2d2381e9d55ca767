package usecase

import (
	"context"
	"time"

	"flowq/internal/domain"
	"flowq/internal/ports"
	"flowq/pkg/backoff"

	"github.com/rs/zerolog/log"
)

type Handler func(ctx context.Context, t domain.Task) error

type Consumer struct {
	Q            ports.Queue
	ConsumerName string
	MaxCount     int64
	BlockTimeout time.Duration
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
}

// Run polls until ctx is cancelled. A failed handler leaves the delivery
// unacknowledged: the recovery loop is the only path that redelivers or
// dead-letters it, so worker crashes and handler errors converge on one
// mechanism.
func (c Consumer) Run(ctx context.Context, handle Handler) error {
	errStreak := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		deliveries, err := c.Q.Poll(ctx, c.ConsumerName, c.MaxCount, c.BlockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			errStreak++
			delay := backoff.ExponentialJitter(c.BaseBackoff, c.MaxBackoff, errStreak)
			log.Ctx(ctx).Warn().Err(err).Dur("backoff", delay).Msg("poll failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}
		errStreak = 0

		for _, d := range deliveries {
			if err := handle(ctx, d.Task); err != nil {
				log.Ctx(ctx).Warn().
					Err(err).
					Str("task_id", d.Task.ID).
					Str("type", d.Task.Type).
					Msg("task handler failed, leaving delivery for recovery")
				continue
			}
			if err := c.Q.Ack(ctx, d.Stream, d.ID); err != nil {
				log.Ctx(ctx).Warn().Err(err).Str("task_id", d.Task.ID).Msg("ack failed")
			}
		}
	}
}
