package security

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

var rateLimitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

local windowStart = now - window

redis.call('ZREMRANGEBYSCORE', key, '-inf', windowStart)

local count = redis.call('ZCARD', key)

if count >= limit then
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local resetAt = 0
    if #oldest >= 2 then
        resetAt = tonumber(oldest[2]) + window
    else
        resetAt = now + window
    end
    return {0, resetAt}
end

redis.call('ZADD', key, now, now .. '-' .. math.random())
redis.call('EXPIRE', key, window + 10)

return {1, now + window}
`)

// RedisLimiter is a sliding-window rate limiter shared across
// instances, implemented as a ZSET of request timestamps trimmed and
// counted atomically in a Lua script.
type RedisLimiter struct {
	client *redis.Client
	window time.Duration
}

func NewRedisLimiter(client *redis.Client, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, window: window}
}

// Check records a request for the key and reports whether it fits the
// window. Redis failures allow the request through: availability over
// strictness for a limiter guarding otherwise-authenticated calls.
func (l *RedisLimiter) Check(ctx context.Context, key string, limit int) (bool, int) {
	now := time.Now().Unix()
	windowSecs := int64(l.window.Seconds())

	result, err := rateLimitScript.Run(ctx, l.client,
		[]string{"ratelimit:" + key}, now, windowSecs, limit).Int64Slice()
	if err != nil {
		log.Printf("⚠️ Redis rate limit check failed for %s, allowing request: %v", key, err)
		return true, 0
	}
	if len(result) != 2 {
		log.Printf("⚠️ Unexpected Redis rate limit result for %s, allowing request", key)
		return true, 0
	}

	if result[0] != 1 {
		retryAfter := int(result[1] - now)
		if retryAfter < 1 {
			retryAfter = 1
		}
		return false, retryAfter
	}
	return true, 0
}
