package agentic

import (
	"context"
	"time"
)

// repeatCacheTTL bounds how long a normalized query's repeat count is
// remembered, so a dedup key from an old request doesn't linger
// forever in the shared cache.
const repeatCacheTTL = 10 * time.Minute

// RepeatCache counts how many times a normalized query string has
// been issued, shared process-wide across requests (unlike the
// per-call fallback map Run uses when no cache is wired), so the same
// literal query repeated by different callers still trips the
// repeated-queries termination check.
type RepeatCache interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, expiration time.Duration) error
}

// redisClient is the subset of internal/redis.Client this package
// depends on.
type redisClient interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, expiration time.Duration) error
}

// RedisRepeatCache adapts internal/redis.Client to RepeatCache,
// namespacing every key under "agentic:repeat:" so it doesn't collide
// with other cache uses of the same Redis instance.
type RedisRepeatCache struct {
	client redisClient
}

// NewRedisRepeatCache builds a RepeatCache backed by a Redis client.
func NewRedisRepeatCache(client redisClient) *RedisRepeatCache {
	return &RedisRepeatCache{client: client}
}

const repeatCacheKeyPrefix = "agentic:repeat:"

// Incr implements RepeatCache: increments the shared counter for key
// and refreshes its TTL on every call.
func (c *RedisRepeatCache) Incr(ctx context.Context, key string) (int64, error) {
	count, err := c.client.Incr(ctx, repeatCacheKeyPrefix+key)
	if err != nil {
		return 0, err
	}
	if err := c.client.Expire(ctx, repeatCacheKeyPrefix+key, repeatCacheTTL); err != nil {
		return count, err
	}
	return count, nil
}

// Expire implements RepeatCache.
func (c *RedisRepeatCache) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return c.client.Expire(ctx, repeatCacheKeyPrefix+key, expiration)
}
