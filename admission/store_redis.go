package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "admission:window:"

// RedisStore is a CounterStore backed by Redis, for deployments that need
// counters shared across instances. INCR is atomic server-side; the TTL is
// set only when the key is first created so the window boundary stays fixed.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisStore creates a Redis-backed counter store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		now:    time.Now,
	}
}

// Increment implements CounterStore.
func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (int, time.Time, error) {
	redisKey := redisKeyPrefix + key

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Do(ctx, "pexpire", redisKey, window.Milliseconds(), "NX")
	pttl := pipe.PTTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to increment counter: %w", err)
	}

	ttl := pttl.Val()
	if ttl < 0 {
		ttl = window
	}
	return int(incr.Val()), s.now().Add(ttl), nil
}

// Sweep is a no-op: Redis expires window keys server-side via their TTL.
func (s *RedisStore) Sweep(time.Time) {}
