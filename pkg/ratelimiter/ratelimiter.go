package ratelimiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter implements fixed-window counters on Redis. Counters are
// keyed ratelimit:{name}:{bucket} where bucket = floor(now/window), so
// every process sharing the Redis instance shares the window.
type Limiter struct {
	redis *redis.Client

	// Pre-compiled Lua script so check and increment are atomic; a
	// GET then INCR sequence would over-admit under concurrency.
	allowScript *redis.Script
}

// Result reports the outcome of a window check.
type Result struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   time.Time
}

// RetryAfter returns how long a denied caller should wait before the
// window resets, never less than one second.
func (r *Result) RetryAfter(now time.Time) time.Duration {
	wait := r.ResetAt.Sub(now)
	if wait < time.Second {
		return time.Second
	}
	return wait
}

const allowLuaScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local current = tonumber(redis.call("GET", key) or "0")

if current + 1 > limit then
    return {0, current}
end

local newVal = redis.call("INCRBY", key, 1)
if newVal == 1 then
    redis.call("EXPIRE", key, ttl)
end

return {1, newVal}
`

// New creates a limiter on an existing Redis client.
func New(client *redis.Client) *Limiter {
	return &Limiter{
		redis:       client,
		allowScript: redis.NewScript(allowLuaScript),
	}
}

// NewFromURL connects to Redis and verifies the connection.
func NewFromURL(redisURL string) (*Limiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return New(client), nil
}

// Allow checks the counter for the current window and increments it
// when under the limit. A limit of zero denies everything.
func (l *Limiter) Allow(ctx context.Context, name string, limit int64, window time.Duration) (*Result, error) {
	key, resetAt, windowSecs := l.window(name, window)

	raw, err := l.allowScript.Run(ctx, l.redis,
		[]string{key},
		limit,
		windowSecs*2,
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	allowed := raw[0].(int64) == 1
	current := raw[1].(int64)

	return buildResult(allowed, limit, current, resetAt), nil
}

// Peek reports the current window state without consuming a slot. The
// dispatch path uses this so a send does not double-count against the
// submission increment.
func (l *Limiter) Peek(ctx context.Context, name string, limit int64, window time.Duration) (*Result, error) {
	key, resetAt, _ := l.window(name, window)

	current, err := l.redis.Get(ctx, key).Int64()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("rate limit peek failed: %w", err)
	}

	return buildResult(current < limit, limit, current, resetAt), nil
}

func (l *Limiter) window(name string, window time.Duration) (key string, resetAt time.Time, windowSecs int64) {
	windowSecs = int64(window.Seconds())
	if windowSecs < 1 {
		windowSecs = 1
	}
	bucket := time.Now().Unix() / windowSecs
	key = fmt.Sprintf("ratelimit:%s:%d", name, bucket)
	resetAt = time.Unix((bucket+1)*windowSecs, 0)
	return key, resetAt, windowSecs
}

func buildResult(allowed bool, limit, current int64, resetAt time.Time) *Result {
	remaining := limit - current
	if remaining < 0 {
		remaining = 0
	}
	return &Result{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

// Close closes the underlying Redis connection.
func (l *Limiter) Close() error {
	return l.redis.Close()
}
