package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"flowq/internal/domain"
	"flowq/internal/ports"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var _ ports.Queue = (*Client)(nil)
var _ ports.CheckpointLog = (*Client)(nil)

// How long a dead-letter dedupe marker outlives the entry it guards.
const dlqMarkerTTL = 7 * 24 * time.Hour

func (c *Client) Enqueue(ctx context.Context, t domain.Task) (string, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Priority != domain.PriorityHigh {
		t.Priority = domain.PriorityLow
	}
	if t.MaxRetries == 0 {
		t.MaxRetries = domain.DefaultMaxRetries
	}
	if t.TimeoutSeconds == 0 {
		t.TimeoutSeconds = domain.DefaultTimeoutSeconds
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	values, err := t.StreamValues()
	if err != nil {
		return "", err
	}
	id, err := c.Rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: c.streamFor(t.Priority),
		MaxLen: c.Cfg.MaxStreamLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		return "", err
	}
	c.added.Add(1)
	return id, nil
}

// Poll drains everything available on the high stream before touching the
// low one. Only never-delivered entries are read: a delivery a consumer
// already holds is never replayed here, stalled or not — redelivery is the
// recovery loop's job alone. Only when both streams turn up empty does Poll
// fall back to one blocking read across the pair.
func (c *Client) Poll(ctx context.Context, consumer string, maxCount int64, block time.Duration) ([]ports.Delivery, error) {
	if maxCount <= 0 {
		maxCount = 1
	}

	var out []ports.Delivery
	for _, stream := range c.priorityStreams() {
		remaining := maxCount - int64(len(out))
		if remaining <= 0 {
			break
		}
		msgs, err := c.readGroup(ctx, consumer, []string{stream, ">"}, remaining, -1)
		if err != nil {
			return nil, err
		}
		out = c.appendDeliveries(ctx, out, stream, consumer, msgs)
	}
	if len(out) > 0 || block <= 0 {
		return out, nil
	}
	return c.pollBlocking(ctx, consumer, maxCount, block)
}

// pollBlocking waits on both streams at once, then keeps the high-before-low
// ordering on whatever arrived. COUNT applies per stream on a multi-stream
// read, so the merged result is capped again.
func (c *Client) pollBlocking(ctx context.Context, consumer string, maxCount int64, block time.Duration) ([]ports.Delivery, error) {
	res, err := c.Rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.Cfg.Group,
		Consumer: consumer,
		Streams:  []string{c.Cfg.HighStreamKey, c.Cfg.LowStreamKey, ">", ">"},
		Count:    maxCount,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var out []ports.Delivery
	for _, stream := range c.priorityStreams() {
		for _, sr := range res {
			if sr.Stream != stream {
				continue
			}
			out = c.appendDeliveries(ctx, out, stream, consumer, sr.Messages)
		}
	}
	if int64(len(out)) > maxCount {
		out = out[:maxCount]
	}
	return out, nil
}

func (c *Client) readGroup(ctx context.Context, consumer string, streams []string, count int64, block time.Duration) ([]redis.XMessage, error) {
	res, err := c.Rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.Cfg.Group,
		Consumer: consumer,
		Streams:  streams,
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var msgs []redis.XMessage
	for _, sr := range res {
		msgs = append(msgs, sr.Messages...)
	}
	return msgs, nil
}

func (c *Client) appendDeliveries(ctx context.Context, out []ports.Delivery, stream, consumer string, msgs []redis.XMessage) []ports.Delivery {
	for _, msg := range msgs {
		t, err := domain.TaskFromStreamValues(msg.Values)
		if err != nil {
			// Poison entry: it can never decode, so retrying is pointless.
			log.Ctx(ctx).Warn().Err(err).Str("stream", stream).Str("id", msg.ID).Msg("dropping undecodable stream entry")
			_ = c.Rdb.XAck(ctx, stream, c.Cfg.Group, msg.ID).Err()
			continue
		}
		t.WorkerID = consumer
		out = append(out, ports.Delivery{Stream: stream, ID: msg.ID, Task: t})
	}
	return out
}

func (c *Client) Ack(ctx context.Context, stream, id string) error {
	n, err := c.Rdb.XAck(ctx, stream, c.Cfg.Group, id).Result()
	if err != nil {
		return err
	}
	// Acknowledging twice is a no-op; only a first ack counts as processed.
	if n > 0 {
		c.processed.Add(uint64(n))
	}
	return nil
}

func (c *Client) ToDeadLetter(ctx context.Context, t domain.Task, reason string) error {
	marker := fmt.Sprintf("%s:seen:%s", c.Cfg.DLQStreamKey, t.ID)
	fresh, err := c.Rdb.SetNX(ctx, marker, "1", dlqMarkerTTL).Result()
	if err != nil {
		return err
	}
	if !fresh {
		// Already dead-lettered; a crash between append and ack must not
		// duplicate the entry.
		return nil
	}

	d := domain.DeadLetter{Task: t, Error: reason, FailedAt: time.Now()}
	values, err := d.StreamValues()
	if err != nil {
		return err
	}
	if err := c.Rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: c.Cfg.DLQStreamKey,
		Values: values,
	}).Err(); err != nil {
		return err
	}
	c.failed.Add(1)
	log.Ctx(ctx).Warn().Str("task_id", t.ID).Str("type", t.Type).Msg("task moved to dead letter")
	return nil
}

func (c *Client) DeadLetters(ctx context.Context, limit int64) ([]domain.DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	msgs, err := c.Rdb.XRevRangeN(ctx, c.Cfg.DLQStreamKey, "+", "-", limit).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.DeadLetter, 0, len(msgs))
	for _, msg := range msgs {
		d, err := domain.DeadLetterFromStreamValues(msg.Values)
		if err != nil {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// Checkpoint appends a progress snapshot to the checkpoint stream. The
// client is the queue-backed implementation of the orchestrator's sink.
func (c *Client) Checkpoint(ctx context.Context, scopeID, step string, data map[string]any) error {
	if data == nil {
		data = map[string]any{}
	}
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal checkpoint data for %s: %w", scopeID, err)
	}
	return c.Rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: c.Cfg.CheckpointStreamKey,
		MaxLen: c.Cfg.MaxStreamLen,
		Approx: true,
		Values: map[string]any{
			"scope_id":  scopeID,
			"step":      step,
			"data":      string(b),
			"timestamp": formatNow(),
		},
	}).Err()
}

// Checkpoints scans the checkpoint stream for snapshots owned by scopeID,
// oldest first.
func (c *Client) Checkpoints(ctx context.Context, scopeID string) ([]domain.Checkpoint, error) {
	msgs, err := c.Rdb.XRange(ctx, c.Cfg.CheckpointStreamKey, "-", "+").Result()
	if err != nil {
		return nil, err
	}
	var out []domain.Checkpoint
	for _, msg := range msgs {
		cp, err := checkpointFromValues(msg.Values)
		if err != nil || cp.ScopeID != scopeID {
			continue
		}
		out = append(out, cp)
	}
	return out, nil
}

func (c *Client) Stats(ctx context.Context) (domain.QueueStats, error) {
	stats := domain.QueueStats{
		Added:     c.added.Load(),
		Processed: c.processed.Load(),
		Failed:    c.failed.Load(),
		Recovered: c.recovered.Load(),
	}

	var err error
	if stats.HighDepth, err = c.Rdb.XLen(ctx, c.Cfg.HighStreamKey).Result(); err != nil {
		return stats, err
	}
	if stats.LowDepth, err = c.Rdb.XLen(ctx, c.Cfg.LowStreamKey).Result(); err != nil {
		return stats, err
	}
	stats.HighPending = c.pendingCount(ctx, c.Cfg.HighStreamKey)
	stats.LowPending = c.pendingCount(ctx, c.Cfg.LowStreamKey)
	return stats, nil
}

func (c *Client) pendingCount(ctx context.Context, stream string) int64 {
	p, err := c.Rdb.XPending(ctx, stream, c.Cfg.Group).Result()
	if err != nil {
		return 0
	}
	return p.Count
}
