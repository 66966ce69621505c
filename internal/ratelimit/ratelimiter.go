// Package ratelimit limits how many requests a caller may make per minute.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Window is the length of the sliding window.
const Window = time.Minute

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed bool
	// Remaining is -1 when there is no limit.
	Remaining int
	ResetAt   time.Time
	Limit     int
}

// Limiter is used to enforce per-caller rate limits.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// NoopLimiter allows all requests.
type NoopLimiter struct{}

func NewNoopLimiter() *NoopLimiter {
	return &NoopLimiter{}
}

func (l *NoopLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	return Decision{Allowed: true, Remaining: -1}, nil
}

// slidingWindow trims entries older than the window, then admits the request
// when the window still has room. Rejected requests are not counted.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
	redis.call('ZADD', key, now, member)
	count = count + 1
	allowed = 1
end
redis.call('PEXPIRE', key, window)

local reset = now + window
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if oldest[2] then
	reset = tonumber(oldest[2]) + window
end
return {allowed, count, reset}
`)

// RateLimiter implements distributed rate limiting using Redis sorted sets.
type RateLimiter struct {
	client redis.Cmdable
	limit  int
	now    func() time.Time
}

// NewRateLimiter creates a limiter admitting limit requests per key and minute.
// A limit of zero or less disables limiting.
func NewRateLimiter(client redis.Cmdable, limit int) *RateLimiter {
	return &RateLimiter{client: client, limit: limit, now: time.Now}
}

func key(id string) string {
	return "ratelimit:" + id
}

// Allow checks the configured limit for key.
func (rl *RateLimiter) Allow(ctx context.Context, id string) (Decision, error) {
	allowed, remaining, resetAt, err := rl.AllowWithDetails(ctx, id, rl.limit)
	if err != nil {
		return Decision{}, err
	}
	return Decision{Allowed: allowed, Remaining: remaining, ResetAt: resetAt, Limit: rl.limit}, nil
}

// AllowWithDetails checks whether a request for id fits in limit, and returns
// the requests left in the window and when the oldest one leaves it.
func (rl *RateLimiter) AllowWithDetails(ctx context.Context, id string, limit int) (bool, int, time.Time, error) {
	if limit <= 0 {
		return true, -1, time.Time{}, nil
	}

	now := rl.now()
	res, err := slidingWindow.Run(ctx, rl.client, []string{key(id)},
		now.UnixMilli(), Window.Milliseconds(), limit, fmt.Sprintf("%d:%s", now.UnixNano(), uuid.NewString()),
	).Int64Slice()
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("rate limit check failed: %w", err)
	}
	if len(res) != 3 {
		return false, 0, time.Time{}, fmt.Errorf("rate limit check failed: unexpected reply %v", res)
	}

	remaining := limit - int(res[1])
	if remaining < 0 {
		remaining = 0
	}
	return res[0] == 1, remaining, time.UnixMilli(res[2]), nil
}

// GetCurrentUsage returns the current request count in the window
func (rl *RateLimiter) GetCurrentUsage(ctx context.Context, id string) (int64, error) {
	windowStart := rl.now().Add(-Window)
	if err := rl.client.ZRemRangeByScore(ctx, key(id), "-inf", fmt.Sprintf("%d", windowStart.UnixMilli())).Err(); err != nil {
		return 0, fmt.Errorf("failed to clean old entries: %w", err)
	}

	count, err := rl.client.ZCard(ctx, key(id)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get current usage: %w", err)
	}
	return count, nil
}

// Reset resets the rate limit for a key
func (rl *RateLimiter) Reset(ctx context.Context, id string) error {
	return rl.client.Del(ctx, key(id)).Err()
}
