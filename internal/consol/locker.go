package consol

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker serializes runs per (root entity, period). A second run while one
// is active must be rejected, not queued.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// RedisLocker implements Locker with SET NX and a TTL so a crashed run
// cannot hold the slot forever.
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker constructs a redis-backed run locker.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

// Acquire takes the slot if free. A false return means another run holds it.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("consol: acquire run lock: %w", err)
	}
	return ok, nil
}

// Release frees the slot.
func (l *RedisLocker) Release(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("consol: release run lock: %w", err)
	}
	return nil
}
