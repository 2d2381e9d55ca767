package redisq

import (
	"context"
	"fmt"
	"time"

	"flowq/internal/domain"
	"flowq/internal/ports"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var _ ports.Recoverer = (*Recovery)(nil)

// Recovery redelivers tasks whose worker went silent. There is no heartbeat:
// liveness is inferred purely from an entry's idle time against the task's
// own declared timeout.
type Recovery struct {
	C        *Client
	Interval time.Duration
}

func NewRecovery(c *Client, interval time.Duration) *Recovery {
	return &Recovery{C: c, Interval: interval}
}

func (r *Recovery) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		if err := r.Sweep(ctx); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("recovery sweep failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep examines every pending entry on both priority streams once. Entries
// idle past their task's timeout are re-enqueued as a fresh copy with the
// retry count bumped or, once the retry budget is spent, dead-lettered.
// Either way the stuck entry is acknowledged out of the pending list, so a
// stalled worker that wakes up late finds nothing to replay.
func (r *Recovery) Sweep(ctx context.Context) error {
	for _, stream := range r.C.priorityStreams() {
		pending, err := r.C.Rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: stream,
			Group:  r.C.Cfg.Group,
			Start:  "-",
			End:    "+",
			Count:  128,
		}).Result()
		if err != nil {
			return fmt.Errorf("pending scan on %s: %w", stream, err)
		}

		for _, entry := range pending {
			if err := r.recoverEntry(ctx, stream, entry); err != nil {
				log.Ctx(ctx).Warn().Err(err).Str("stream", stream).Str("id", entry.ID).Msg("failed to recover entry")
			}
		}
	}
	return nil
}

func (r *Recovery) recoverEntry(ctx context.Context, stream string, entry redis.XPendingExt) error {
	msgs, err := r.C.Rdb.XRange(ctx, stream, entry.ID, entry.ID).Result()
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		// Trimmed out from under the group; nothing left to redeliver.
		return r.C.Rdb.XAck(ctx, stream, r.C.Cfg.Group, entry.ID).Err()
	}

	t, err := domain.TaskFromStreamValues(msgs[0].Values)
	if err != nil {
		return err
	}
	if entry.Idle < t.Timeout() {
		return nil
	}

	// The retry tally lives on the record itself, so it survives being
	// re-enqueued and dead-letters at the same budget no matter which
	// sweeper handled the earlier redeliveries.
	if t.RetryCount >= t.MaxRetries {
		reason := fmt.Sprintf("retry limit exhausted: %d redeliveries of %d allowed, last worker %s idle %s",
			t.RetryCount, t.MaxRetries, entry.Consumer, entry.Idle.Truncate(time.Millisecond))
		if err := r.C.ToDeadLetter(ctx, t, reason); err != nil {
			return err
		}
		// Raw XACK: the entry was never processed, so the processed tally
		// must not move.
		return r.C.Rdb.XAck(ctx, stream, r.C.Cfg.Group, entry.ID).Err()
	}

	// Ack-then-reinsert: the stuck entry leaves the pending list and a fresh
	// copy lands at the tail, where any live consumer's next poll picks it up.
	next := t
	next.RetryCount++
	next.WorkerID = ""
	values, err := next.StreamValues()
	if err != nil {
		return err
	}
	if err := r.C.Rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: r.C.Cfg.MaxStreamLen,
		Approx: true,
		Values: values,
	}).Err(); err != nil {
		return err
	}
	if err := r.C.Rdb.XAck(ctx, stream, r.C.Cfg.Group, entry.ID).Err(); err != nil {
		return err
	}
	r.C.recovered.Add(1)
	log.Ctx(ctx).Info().
		Str("task_id", t.ID).
		Str("from", entry.Consumer).
		Int("retry_count", next.RetryCount).
		Msg("re-enqueued stalled task")
	return nil
}
