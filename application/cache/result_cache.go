// Package cache implements the cache-aside result cache shared by all
// search instances.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"forumsearch/application/ports"
	apperrors "forumsearch/pkg/errors"
	"forumsearch/pkg/observability"

	"go.uber.org/zap"
)

// ResultCache stores search results, embeddings, model metadata,
// suggestions and statistics under versioned fingerprints. Every failure
// degrades to a miss; no operation returns an error or panics.
type ResultCache struct {
	store ports.Store
	ttls  map[Namespace]time.Duration

	mu        sync.RWMutex
	clearable map[Namespace]map[string]struct{}

	logger  *zap.Logger
	warn    *observability.WarnOnce
	metrics *observability.Collector
}

// Option configures a ResultCache
type Option func(*ResultCache)

// WithMetrics records hits, misses and store errors on the collector
func WithMetrics(metrics *observability.Collector) Option {
	return func(c *ResultCache) {
		c.metrics = metrics
	}
}

// WithWarnOnce shares a warn-once gate with other components
func WithWarnOnce(warn *observability.WarnOnce) Option {
	return func(c *ResultCache) {
		c.warn = warn
	}
}

// NewResultCache creates a cache. Namespaces missing from ttls use the
// defaults; a non-positive TTL or unknown namespace is rejected.
func NewResultCache(store ports.Store, ttls map[Namespace]time.Duration, logger *zap.Logger, opts ...Option) (*ResultCache, error) {
	if store == nil {
		return nil, apperrors.NewValidationError("result cache requires a store")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	merged := DefaultTTLs()
	for ns, ttl := range ttls {
		if _, ok := merged[ns]; !ok {
			return nil, apperrors.NewValidationErrorf("unknown cache namespace %q", ns)
		}
		if ttl <= 0 {
			return nil, apperrors.NewValidationErrorf("cache TTL for %q must be positive, got %s", ns, ttl)
		}
		merged[ns] = ttl
	}

	c := &ResultCache{
		store:     store,
		ttls:      merged,
		clearable: make(map[Namespace]map[string]struct{}),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.warn == nil {
		c.warn = observability.NewWarnOnce(logger, time.Minute)
	}

	c.RegisterClearable(NamespaceStats, HitsKey)
	c.RegisterClearable(NamespaceStats, MissesKey)
	c.RegisterClearable(NamespaceStats, StatsRecordKey)

	return c, nil
}

// TTL returns the default TTL of a namespace, or zero if unknown
func (c *ResultCache) TTL(ns Namespace) time.Duration {
	return c.ttls[ns]
}

// Get decodes the entry for fingerprint into dst and reports whether it was
// found. Absent, expired, malformed and unreachable entries are all misses.
func (c *ResultCache) Get(ctx context.Context, ns Namespace, fingerprint string, dst any) bool {
	key := entryKey(ns, fingerprint)

	raw, err := c.store.Get(ctx, key)
	if errors.Is(err, ports.ErrNotFound) {
		c.storeRecovered()
		return false
	}
	if err != nil {
		c.storeError("get", err, zap.String("namespace", string(ns)))
		return false
	}
	c.storeRecovered()

	if err := json.Unmarshal(raw, dst); err != nil {
		c.logger.Warn("malformed cache entry treated as miss",
			zap.String("namespace", string(ns)),
			zap.String("key", key),
			zap.Error(err),
		)
		return false
	}
	return true
}

// Put overwrites the entry for fingerprint. A ttl of zero uses the
// namespace default; a negative ttl is refused.
func (c *ResultCache) Put(ctx context.Context, ns Namespace, fingerprint string, payload any, ttl time.Duration) bool {
	if ttl < 0 {
		c.logger.Warn("refusing cache put with negative TTL",
			zap.String("namespace", string(ns)),
			zap.Duration("ttl", ttl),
		)
		return false
	}
	if ttl == 0 {
		def, ok := c.ttls[ns]
		if !ok {
			c.logger.Warn("refusing cache put to unknown namespace", zap.String("namespace", string(ns)))
			return false
		}
		ttl = def
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		c.logger.Warn("cache payload not encodable",
			zap.String("namespace", string(ns)),
			zap.Error(err),
		)
		return false
	}

	if err := c.store.Set(ctx, entryKey(ns, fingerprint), raw, ttl); err != nil {
		c.storeError("set", err, zap.String("namespace", string(ns)))
		return false
	}
	c.storeRecovered()
	return true
}

// RegisterClearable adds an aggregate key to the set Invalidate may clear
func (c *ResultCache) RegisterClearable(ns Namespace, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys, ok := c.clearable[ns]
	if !ok {
		keys = make(map[string]struct{})
		c.clearable[ns] = keys
	}
	keys[key] = struct{}{}
}

// Invalidate deletes the registered aggregate keys of every namespace that
// starts with prefix and returns the number of deletes attempted. Individual
// fingerprinted entries are not enumerable and expire through their TTL;
// model config changes invalidate them through ConfigVersion.
func (c *ResultCache) Invalidate(ctx context.Context, prefix string) int {
	c.mu.RLock()
	var keys []string
	for ns, set := range c.clearable {
		if !strings.HasPrefix(string(ns), prefix) {
			continue
		}
		for key := range set {
			keys = append(keys, key)
		}
	}
	c.mu.RUnlock()
	sort.Strings(keys)

	for _, key := range keys {
		if err := c.store.Delete(ctx, key); err != nil {
			c.storeError("delete", err, zap.String("key", key))
		}
	}

	c.logger.Info("cache invalidated",
		zap.String("prefix", prefix),
		zap.Int("keys", len(keys)),
	)
	return len(keys)
}

// RecordHit counts a cache hit
func (c *ResultCache) RecordHit(ctx context.Context) {
	c.metrics.CacheHit()
	c.incr(ctx, HitsKey)
}

// RecordMiss counts a cache miss
func (c *ResultCache) RecordMiss(ctx context.Context) {
	c.metrics.CacheMiss()
	c.incr(ctx, MissesKey)
}

// HitRate returns hits/(hits+misses)*100, or 0 with no observations
func (c *ResultCache) HitRate(ctx context.Context) float64 {
	hits := c.readCounter(ctx, HitsKey)
	misses := c.readCounter(ctx, MissesKey)
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses) * 100
}

// Counts returns the raw hit and miss counters
func (c *ResultCache) Counts(ctx context.Context) (hits, misses int64) {
	return c.readCounter(ctx, HitsKey), c.readCounter(ctx, MissesKey)
}

// Ping reports whether the backing store is reachable
func (c *ResultCache) Ping(ctx context.Context) error {
	if p, ok := c.store.(ports.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// incr uses the store's atomic counter when it has one and falls back to
// read-modify-write, which may undercount under concurrent writers.
func (c *ResultCache) incr(ctx context.Context, key string) {
	ttl := c.ttls[NamespaceStats]

	if counter, ok := c.store.(ports.Counter); ok {
		_, err := counter.Incr(ctx, key, ttl)
		if err == nil {
			c.storeRecovered()
			return
		}
		if !errors.Is(err, errors.ErrUnsupported) {
			c.storeError("incr", err, zap.String("key", key))
			return
		}
	}

	n := c.readCounter(ctx, key) + 1
	if err := c.store.Set(ctx, key, []byte(strconv.FormatInt(n, 10)), ttl); err != nil {
		c.storeError("set_counter", err, zap.String("key", key))
		return
	}
	c.storeRecovered()
}

func (c *ResultCache) readCounter(ctx context.Context, key string) int64 {
	raw, err := c.store.Get(ctx, key)
	if errors.Is(err, ports.ErrNotFound) {
		return 0
	}
	if err != nil {
		c.storeError("get_counter", err, zap.String("key", key))
		return 0
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		c.logger.Warn("malformed cache counter", zap.String("key", key), zap.Error(err))
		return 0
	}
	return n
}

func (c *ResultCache) storeError(op string, err error, fields ...zap.Field) {
	c.metrics.StoreError("cache", op)
	c.warn.Warn("cache:store", "result cache store unavailable, serving misses",
		append(fields, zap.String("operation", op), zap.Error(err))...)
}

func (c *ResultCache) storeRecovered() {
	c.warn.Recover("cache:store", "result cache store recovered")
}
