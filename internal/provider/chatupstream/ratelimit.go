package chatupstream

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRateLimitExceeded is returned by RateLimiter.Allow once the
// request-per-minute budget for a key is used up.
var ErrRateLimitExceeded = errors.New("chatupstream: rate limit exceeded")

// rateLimitScript increments a per-minute counter and sets its TTL on
// first use, atomically, so concurrent callers can't race past the
// limit between the INCR and the EXPIRE.
const rateLimitScript = `
local key = KEYS[1]
local window = tonumber(ARGV[1])

local current = redis.call('INCR', key)
if current == 1 then
    redis.call('EXPIRE', key, window)
end

return current
`

const rateLimitKeyPrefix = "chatupstream:ratelimit:"

// evalClient is the subset of internal/redis.Client a RateLimiter
// depends on.
type evalClient interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
}

// RateLimiter bounds how many upstream chat completion calls a key
// (Client passes the model name) may issue per minute, backed by
// a shared Redis counter so the limit holds across process replicas.
type RateLimiter struct {
	redis             evalClient
	requestsPerMinute int
}

// NewRateLimiter builds a RateLimiter. requestsPerMinute <= 0 disables
// the limiter entirely (Allow always returns nil).
func NewRateLimiter(redis evalClient, requestsPerMinute int) *RateLimiter {
	return &RateLimiter{redis: redis, requestsPerMinute: requestsPerMinute}
}

// Allow increments key's per-minute counter and returns
// ErrRateLimitExceeded once it passes the configured budget.
func (r *RateLimiter) Allow(ctx context.Context, key string) error {
	if r == nil || r.requestsPerMinute <= 0 {
		return nil
	}

	result, err := r.redis.Eval(ctx, rateLimitScript, []string{rateLimitKeyPrefix + key}, int(time.Minute.Seconds()))
	if err != nil {
		return fmt.Errorf("chatupstream: rate limit check failed: %w", err)
	}

	var count int64
	switch v := result.(type) {
	case int64:
		count = v
	case int:
		count = int64(v)
	default:
		return fmt.Errorf("chatupstream: unexpected rate limit script result type %T", result)
	}

	if int(count) > r.requestsPerMinute {
		return ErrRateLimitExceeded
	}
	return nil
}
