package kvstore

import (
	"context"
	"errors"
	"time"

	"forumsearch/application/ports"
)

// PrefixedStore namespaces every key so several deployments can share one
// backend
type PrefixedStore struct {
	inner  ports.Store
	prefix string
}

// NewPrefixedStore wraps inner. An empty prefix returns a pass-through.
func NewPrefixedStore(inner ports.Store, prefix string) *PrefixedStore {
	return &PrefixedStore{inner: inner, prefix: prefix}
}

func (s *PrefixedStore) Get(ctx context.Context, key string) ([]byte, error) {
	return s.inner.Get(ctx, s.prefix+key)
}

func (s *PrefixedStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.inner.Set(ctx, s.prefix+key, value, ttl)
}

func (s *PrefixedStore) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, s.prefix+key)
}

// Incr returns errors.ErrUnsupported when the wrapped store has no atomic counter
func (s *PrefixedStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	counter, ok := s.inner.(ports.Counter)
	if !ok {
		return 0, errors.ErrUnsupported
	}
	return counter.Incr(ctx, s.prefix+key, ttl)
}

func (s *PrefixedStore) Ping(ctx context.Context) error {
	if pinger, ok := s.inner.(ports.Pinger); ok {
		return pinger.Ping(ctx)
	}
	return nil
}
