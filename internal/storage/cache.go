package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// listCacheTTL bounds how stale API reads may be after a pipeline run.
const listCacheTTL = 5 * time.Minute

// cached serves key from Redis when possible and otherwise calls load and
// stores its result. Redis failures degrade to calling load.
func cached[T any](ctx context.Context, rdb *redis.Client, key string, ttl time.Duration, load func() (T, error)) (T, error) {
	if rdb != nil {
		if bs, err := rdb.Get(ctx, key).Bytes(); err == nil {
			var v T
			if err := json.Unmarshal(bs, &v); err == nil {
				return v, nil
			}
		}
	}

	v, err := load()
	if err != nil {
		return v, err
	}

	if rdb != nil {
		if bs, err := json.Marshal(v); err == nil {
			_ = rdb.Set(ctx, key, bs, ttl).Err()
		}
	}
	return v, nil
}

func (s *Store) forget(ctx context.Context, keys ...string) {
	if s.Redis == nil || len(keys) == 0 {
		return
	}
	_ = s.Redis.Del(ctx, keys...).Err()
}
