package security

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Store = (*RedisStore)(nil)

// RedisStore implements Store on top of Redis. Attempt counters use
// INCR + EXPIRE; distinct-code tracking uses a SET per IP with the same
// window TTL. Counters are shared across instances, so the attempt budget
// holds fleet-wide.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Incr increments the attempt counter for key, starting the expiry window
// on the first increment.
func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("incr %q: %w", key, err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, window).Err(); err != nil {
			return 0, time.Time{}, fmt.Errorf("expire %q: %w", key, err)
		}
	}

	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("ttl %q: %w", key, err)
	}
	if ttl < 0 {
		// Key exists without expiry (e.g. EXPIRE lost to a crash);
		// re-arm the window so the counter cannot grow forever.
		if err := s.client.Expire(ctx, key, window).Err(); err != nil {
			return 0, time.Time{}, fmt.Errorf("re-expire %q: %w", key, err)
		}
		ttl = window
	}

	return count, time.Now().Add(ttl), nil
}

// AddDistinct adds member to the set stored at key and returns its
// cardinality. The set expires with the window.
func (s *RedisStore) AddDistinct(ctx context.Context, key, member string, window time.Duration) (int64, error) {
	added, err := s.client.SAdd(ctx, key, member).Result()
	if err != nil {
		return 0, fmt.Errorf("sadd %q: %w", key, err)
	}
	if added > 0 {
		ttl, err := s.client.TTL(ctx, key).Result()
		if err != nil {
			return 0, fmt.Errorf("ttl %q: %w", key, err)
		}
		if ttl < 0 {
			if err := s.client.Expire(ctx, key, window).Err(); err != nil {
				return 0, fmt.Errorf("expire %q: %w", key, err)
			}
		}
	}

	card, err := s.client.SCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("scard %q: %w", key, err)
	}
	return card, nil
}
