package redisq

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"flowq/internal/config"
	"flowq/internal/domain"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Client owns the queue's streams and its cumulative counters. Counters are
// per-instance state, never package globals, so tests don't share them.
type Client struct {
	Cfg config.Redis
	Rdb *redis.Client

	added     atomic.Uint64
	processed atomic.Uint64
	failed    atomic.Uint64
	recovered atomic.Uint64
}

func New(cfg config.Redis) *Client {
	log.Info().Msgf("connecting to redis at %s", cfg.Addr)
	c := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Client{Cfg: cfg, Rdb: c}
}

func (c *Client) Connect(ctx context.Context) error {
	if err := c.Rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	log.Ctx(ctx).Info().Msg("connected to redis")
	return nil
}

// Init ensures both priority streams exist and share one consumer group, so
// a single worker pool drains them together.
func (c *Client) Init(ctx context.Context) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}

	for _, stream := range c.priorityStreams() {
		err := c.Rdb.XGroupCreateMkStream(ctx, stream, c.Cfg.Group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP Consumer Group name already exists") {
			return fmt.Errorf("failed to create consumer group on %s: %w", stream, err)
		}
	}

	log.Ctx(ctx).Info().
		Str("high", c.Cfg.HighStreamKey).
		Str("low", c.Cfg.LowStreamKey).
		Str("group", c.Cfg.Group).
		Msg("redis streams and consumer group ready")

	return nil
}

func (c *Client) priorityStreams() []string {
	return []string{c.Cfg.HighStreamKey, c.Cfg.LowStreamKey}
}

func (c *Client) streamFor(p domain.Priority) string {
	if p == domain.PriorityLow {
		return c.Cfg.LowStreamKey
	}
	return c.Cfg.HighStreamKey
}
