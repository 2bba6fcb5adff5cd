// Package cache provides an optional Redis-backed snapshot cache for
// ranking and statistics responses. When Redis is not configured the
// noop implementation keeps callers branch-free.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const snapshotPrefix = "snapshot:"

// SnapshotCache stores serialized aggregate snapshots with a TTL.
// Writers invalidate the whole namespace whenever aggregates change;
// snapshots are cheap to recompute and correctness beats hit rate.
type SnapshotCache interface {
	// Get unmarshals the cached value for key into dest. Returns false
	// on a miss.
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	// Invalidate drops every snapshot key.
	Invalidate(ctx context.Context) error
}

type redisSnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisSnapshotCache creates a Redis-backed snapshot cache.
func NewRedisSnapshotCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) SnapshotCache {
	return &redisSnapshotCache{
		client: client,
		ttl:    ttl,
		logger: logger.Named("cache"),
	}
}

var _ SnapshotCache = (*redisSnapshotCache)(nil)

func (c *redisSnapshotCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	data, err := c.client.Get(ctx, snapshotPrefix+key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return true, nil
}

func (c *redisSnapshotCache) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := c.client.Set(ctx, snapshotPrefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

func (c *redisSnapshotCache) Invalidate(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, snapshotPrefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan snapshot keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate snapshots: %w", err)
	}
	c.logger.Debug("invalidated snapshots", zap.Int("keys", len(keys)))
	return nil
}

type noopSnapshotCache struct{}

// NewNoopSnapshotCache returns a cache that stores nothing. Used when
// Redis is not configured.
func NewNoopSnapshotCache() SnapshotCache {
	return noopSnapshotCache{}
}

func (noopSnapshotCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	return false, nil
}

func (noopSnapshotCache) Set(ctx context.Context, key string, value any) error { return nil }

func (noopSnapshotCache) Invalidate(ctx context.Context) error { return nil }
