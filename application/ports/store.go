package ports

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Store.Get when the key is absent or expired.
	ErrNotFound = errors.New("key not found")

	// ErrUnavailable is returned when the backing store cannot serve the call.
	ErrUnavailable = errors.New("store unavailable")
)

// Store defines the key-value store shared by the cache, the rate limiter
// and the statistics aggregator. Every key carries its own TTL; expiry is
// enforced by the store at read time.
type Store interface {
	// Get retrieves a value, returning ErrNotFound for absent or expired keys
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with a TTL, overwriting any existing entry
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value; deleting an absent key is not an error
	Delete(ctx context.Context, key string) error
}

// Counter is implemented by stores that can increment an integer key
// atomically. The TTL is applied when the key is created.
type Counter interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Pinger is implemented by stores that can report their own health.
type Pinger interface {
	Ping(ctx context.Context) error
}
