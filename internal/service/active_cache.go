package service

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

var errPointerMiss = errors.New("active session pointer not cached")

// ActiveSessionCache keeps the user -> active session pointer in Redis so the
// autosave hot path avoids Postgres. Postgres stays the source of truth; a nil
// cache behaves as a permanent miss.
type ActiveSessionCache struct {
	rdb     *redis.Client
	timeout time.Duration
}

func NewActiveSessionCache(rdb *redis.Client, timeout time.Duration) *ActiveSessionCache {
	return &ActiveSessionCache{rdb: rdb, timeout: timeout}
}

func (c *ActiveSessionCache) Get(ctx context.Context, userID int) (*model.ActiveSessionRef, error) {
	if c == nil || c.rdb == nil {
		return nil, errPointerMiss
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.rdb.Get(ctx, config.CacheKey.ActiveSessionKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errPointerMiss
		}
		return nil, err
	}
	var ref model.ActiveSessionRef
	if err := sonic.Unmarshal(raw, &ref); err != nil {
		return nil, errPointerMiss
	}
	return &ref, nil
}

// Set caches the pointer until shortly after the session's deadline.
func (c *ActiveSessionCache) Set(ctx context.Context, userID int, ref *model.ActiveSessionRef) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	raw, err := sonic.Marshal(ref)
	if err != nil {
		return err
	}
	ttl := time.Until(ref.Deadline()) + time.Hour
	if ttl < time.Minute {
		ttl = time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.rdb.Set(ctx, config.CacheKey.ActiveSessionKey(userID), raw, ttl).Err()
}

func (c *ActiveSessionCache) Evict(ctx context.Context, userID int) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.rdb.Del(ctx, config.CacheKey.ActiveSessionKey(userID)).Err()
}
