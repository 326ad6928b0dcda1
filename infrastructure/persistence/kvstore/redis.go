package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"forumsearch/application/ports"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a shared store backed by Redis. Expiry uses native Redis
// TTLs. The caller owns the client lifecycle.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a Redis-backed store
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Get retrieves a value
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: redis get %q: %v", ports.ErrUnavailable, key, err)
	}
	return value, nil
}

// Set stores a value. A ttl of zero stores without expiry.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: redis set %q: %v", ports.ErrUnavailable, key, err)
	}
	return nil
}

// Delete removes a value
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: redis del %q: %v", ports.ErrUnavailable, key, err)
	}
	return nil
}

// Incr increments a counter with INCR and sets the TTL when the key is new
func (s *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: redis incr %q: %v", ports.ErrUnavailable, key, err)
	}
	if n == 1 && ttl > 0 {
		if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
			return n, fmt.Errorf("%w: redis expire %q: %v", ports.ErrUnavailable, key, err)
		}
	}
	return n, nil
}

// Ping checks connectivity
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: redis ping: %v", ports.ErrUnavailable, err)
	}
	return nil
}
