package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"cardshift/backend/internal/pipefy"
)

const (
	pipesKey   = "cache:pipes"
	membersKey = "cache:members"
)

// ErrCacheMiss is returned when the cached value is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// RedisCache holds pipe and member snapshots with a TTL. Cached data is
// always treated as possibly stale; the console's force-refresh path bypasses
// it and writes the fresh result back.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache creates a new RedisCache.
func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisCache{rdb: rdb, ttl: ttl}
}

// Pipes returns the cached pipe list.
func (c *RedisCache) Pipes(ctx context.Context) ([]pipefy.Pipe, error) {
	var pipes []pipefy.Pipe
	if err := c.get(ctx, pipesKey, &pipes); err != nil {
		return nil, err
	}
	return pipes, nil
}

// SetPipes stores the pipe list.
func (c *RedisCache) SetPipes(ctx context.Context, pipes []pipefy.Pipe) error {
	return c.set(ctx, pipesKey, pipes)
}

// Members returns the cached member list.
func (c *RedisCache) Members(ctx context.Context) ([]pipefy.Member, error) {
	var members []pipefy.Member
	if err := c.get(ctx, membersKey, &members); err != nil {
		return nil, err
	}
	return members, nil
}

// SetMembers stores the member list.
func (c *RedisCache) SetMembers(ctx context.Context, members []pipefy.Member) error {
	return c.set(ctx, membersKey, members)
}

// Invalidate drops both snapshots.
func (c *RedisCache) Invalidate(ctx context.Context) error {
	return c.rdb.Del(ctx, pipesKey, membersKey).Err()
}

func (c *RedisCache) get(ctx context.Context, key string, out any) error {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		// a corrupt entry behaves like a miss and gets overwritten
		return ErrCacheMiss
	}
	return nil
}

func (c *RedisCache) set(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, raw, c.ttl).Err()
}
