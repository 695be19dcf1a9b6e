package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// -----------------------------------------------------------------------------

// RedisStore is the shared cache backend for multi-replica deployments. All
// errors pass through untouched; the ResultCache decides what best-effort
// means.
type RedisStore struct {
	client *redis.Client
}

// -----------------------------------------------------------------------------

func NewRedisStore(addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to reach redis at %s: %w", addr, err)
	}
	return &RedisStore{client: client}, nil
}

// -----------------------------------------------------------------------------

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// -----------------------------------------------------------------------------

func (r *RedisStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// -----------------------------------------------------------------------------

// Flush deletes only this service's keys, not the whole database.
func (r *RedisStore) Flush(ctx context.Context) error {
	keys, err := r.client.Keys(ctx, KeyPrefix+":*").Result()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

// -----------------------------------------------------------------------------

func (r *RedisStore) Close() error {
	return r.client.Close()
}
