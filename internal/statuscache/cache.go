// Package statuscache mirrors the latest order status into Redis so readers
// can poll without hitting Postgres, and appends every change to a stream for
// downstream tailing.
package statuscache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores the latest order status in a hash and appends to a stream.
type Cache struct {
	client    RedisPipelineClient
	stream    string
	keyPrefix string
	ttl       time.Duration
	maxLen    int64
}

// RedisPipelineClient is the minimal client surface used by Cache.
type RedisPipelineClient interface {
	Pipeline() RedisPipeliner
}

// RedisPipeliner is the subset of commands used within a pipeline.
type RedisPipeliner interface {
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Exec(ctx context.Context) ([]redis.Cmder, error)
}

// New constructs a Redis-backed status cache.
func New(client RedisPipelineClient, stream string, ttl time.Duration, maxLen int64) *Cache {
	if stream == "" {
		stream = "order_status_events"
	}
	return &Cache{
		client:    client,
		stream:    stream,
		keyPrefix: "order:",
		ttl:       ttl,
		maxLen:    maxLen,
	}
}

// SetStatus writes the latest status and appends to the stream.
func (c *Cache) SetStatus(ctx context.Context, orderID, status string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := c.keyPrefix + orderID
	timestamp := at.UTC().Format(time.RFC3339Nano)

	pipe := c.client.Pipeline()
	pipe.HSet(ctx, key, map[string]any{
		"order_id":   orderID,
		"status":     status,
		"updated_at": timestamp,
	})
	if c.ttl > 0 {
		pipe.Expire(ctx, key, c.ttl)
	}

	args := &redis.XAddArgs{
		Stream: c.stream,
		Values: map[string]any{
			"order_id":   orderID,
			"status":     status,
			"updated_at": timestamp,
		},
	}
	if c.maxLen > 0 {
		args.MaxLen = c.maxLen
		args.Approx = true
	}
	pipe.XAdd(ctx, args)

	_, err := pipe.Exec(ctx)
	return err
}
