package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const rateLimitPrefix = "familyledger:ratelimit:"

// RedisRateLimiter is a fixed-window counter shared by every server instance
type RedisRateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRedisRateLimiter allows limit requests per key in each window
func NewRedisRateLimiter(client *redis.Client, limit int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, limit: limit, window: window, now: time.Now}
}

// Allow counts a request for key and reports whether it is within the limit
func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	windowSeconds := int64(rl.window / time.Second)
	if windowSeconds < 1 {
		windowSeconds = 1
	}
	windowKey := fmt.Sprintf("%s%s:%d", rateLimitPrefix, key, rl.now().Unix()/windowSeconds)

	pipe := rl.client.Pipeline()
	incr := pipe.Incr(ctx, windowKey)
	pipe.Expire(ctx, windowKey, rl.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}

	return int(incr.Val()) <= rl.limit, nil
}
