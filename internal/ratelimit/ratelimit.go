// Package ratelimit implements the relay's fixed-window request counters ("<resource>:<principal>" keys) on top of
// Redis. Each check is an INCR, followed by an EXPIRE only when that INCR started a new window, which serializes the
// upsert the concurrency model requires for the (key, count, window_start) row.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter enforces a fixed request count per window for arbitrary keys.
type Limiter struct {
	rdb *redis.Client
}

// New creates a Limiter backed by the given Redis client.
func New(rdb *redis.Client) *Limiter {
	return &Limiter{rdb: rdb}
}

// Result reports the outcome of an Allow check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Allow increments the counter for key and reports whether it is still within limit for the current window. The
// first increment in a window sets the window's TTL; subsequent increments within the same window leave the TTL
// (and therefore window_start) untouched, which is exactly the "upsert against (key, count, window_start)" contract.
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return Result{}, fmt.Errorf("increment rate limit counter %s: %w", key, err)
	}

	if count == 1 {
		if err := l.rdb.Expire(ctx, key, window).Err(); err != nil {
			return Result{}, fmt.Errorf("set rate limit window for %s: %w", key, err)
		}
	}

	ttl, err := l.rdb.TTL(ctx, key).Result()
	if err != nil {
		return Result{}, fmt.Errorf("read rate limit ttl for %s: %w", key, err)
	}
	if ttl < 0 {
		ttl = window
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:   int(count) <= limit,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   time.Now().Add(ttl),
	}, nil
}
