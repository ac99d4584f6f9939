// Package ratelimit implements fixed-window counters in Redis so limits hold
// across every API instance.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// FixedWindow allows at most Limit hits per key within each Window.
type FixedWindow struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewFixedWindow(rdb *redis.Client, limit int, window time.Duration) *FixedWindow {
	return &FixedWindow{rdb: rdb, limit: limit, window: window, now: time.Now}
}

// Window returns the index of the window containing now, for building keys.
func (f *FixedWindow) Window() int64 {
	return f.now().UnixNano() / int64(f.window)
}

// Allow counts one hit against key and reports whether it is within the limit.
// A non-positive limit disables limiting.
func (f *FixedWindow) Allow(ctx context.Context, key string) (bool, error) {
	if f.limit <= 0 {
		return true, nil
	}
	n, err := f.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if n == 1 {
		if err := f.rdb.Expire(ctx, key, f.window).Err(); err != nil {
			return false, fmt.Errorf("rate limit %s: %w", key, err)
		}
	}
	return n <= int64(f.limit), nil
}
