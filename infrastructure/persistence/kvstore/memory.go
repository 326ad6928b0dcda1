// Package kvstore provides the key-value stores behind the result cache,
// the rate limiter and the search statistics.
//
// Available backends:
//   - MemoryStore: in-process freecache, for single-instance deployments and tests
//   - RedisStore: shared Redis, native TTL and INCR
//   - DynamoDBStore: shared DynamoDB table with a TTL attribute
//
// BreakerStore and PrefixedStore decorate any backend.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"forumsearch/application/ports"

	"github.com/coocood/freecache"
)

// DefaultMemorySize is the freecache arena size. A single entry may use at
// most 1/1024 of it.
const DefaultMemorySize = 128 * 1024 * 1024

// MemoryStore is an in-process store backed by freecache. Expiry is
// evaluated by freecache on read with one-second granularity.
type MemoryStore struct {
	cache *freecache.Cache

	// incrMu serializes Incr so read-increment-write is atomic in process
	incrMu sync.Mutex
}

// MemoryOption configures a MemoryStore
type MemoryOption func(*memoryOptions)

type memoryOptions struct {
	timer freecache.Timer
}

// WithTimer replaces freecache's clock, used by tests to move time forward
func WithTimer(timer freecache.Timer) MemoryOption {
	return func(o *memoryOptions) {
		o.timer = timer
	}
}

// NewMemoryStore creates a store with the given arena size in bytes
func NewMemoryStore(size int, opts ...MemoryOption) *MemoryStore {
	if size <= 0 {
		size = DefaultMemorySize
	}

	var o memoryOptions
	for _, opt := range opts {
		opt(&o)
	}

	var cache *freecache.Cache
	if o.timer != nil {
		cache = freecache.NewCacheCustomTimer(size, o.timer)
	} else {
		cache = freecache.NewCache(size)
	}

	return &MemoryStore{cache: cache}
}

// Get retrieves a value
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.cache.Get([]byte(key))
	if errors.Is(err, freecache.ErrNotFound) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("memory get %q: %w", key, err)
	}
	return value, nil
}

// Set stores a value. A ttl of zero stores without expiry.
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.cache.Set([]byte(key), value, ttlSeconds(ttl)); err != nil {
		return fmt.Errorf("memory set %q: %w", key, err)
	}
	return nil
}

// Delete removes a value
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.cache.Del([]byte(key))
	return nil
}

// Incr increments a decimal counter, keeping the remaining TTL of an
// existing key. A key with no remaining TTL takes ttl.
func (s *MemoryStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.incrMu.Lock()
	defer s.incrMu.Unlock()

	k := []byte(key)
	expire := ttlSeconds(ttl)

	var n int64
	if raw, err := s.cache.Get(k); err == nil {
		parsed, perr := strconv.ParseInt(string(raw), 10, 64)
		if perr != nil {
			return 0, fmt.Errorf("memory incr %q: value is not an integer", key)
		}
		n = parsed
		// TTL reports 0 both for no expiry and for under a second left
		if left, terr := s.cache.TTL(k); terr == nil && left > 0 {
			expire = int(left)
		}
	} else if !errors.Is(err, freecache.ErrNotFound) {
		return 0, fmt.Errorf("memory incr %q: %w", key, err)
	}

	n++
	if err := s.cache.Set(k, []byte(strconv.FormatInt(n, 10)), expire); err != nil {
		return 0, fmt.Errorf("memory incr %q: %w", key, err)
	}
	return n, nil
}

// Ping always succeeds for the in-process store
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// EntryCount returns the number of live entries
func (s *MemoryStore) EntryCount() int64 {
	return s.cache.EntryCount()
}

// ttlSeconds converts a TTL to whole seconds, rounding sub-second TTLs up
func ttlSeconds(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	secs := int(ttl / time.Second)
	if ttl%time.Second != 0 {
		secs++
	}
	return secs
}
