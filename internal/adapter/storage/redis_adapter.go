package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	idempotencyKeyPrefix     = "idempotency:"
	defaultIdempotencyKeyTTL = 24 * time.Hour
)

// RedisAdapter holds checkout idempotency keys. Stock never lives here; the
// SQL ledger is the only copy.
type RedisAdapter struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisAdapter(client *redis.Client, ttl time.Duration) *RedisAdapter {
	if ttl <= 0 {
		ttl = defaultIdempotencyKeyTTL
	}
	return &RedisAdapter{client: client, ttl: ttl}
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, idempotencyKeyPrefix+key, 1, r.ttl).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, idempotencyKeyPrefix+key).Err()
}
