// Package stats aggregates rolling search statistics for the admin
// dashboard and the operator CLI.
package stats

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"forumsearch/application/cache"
	"forumsearch/application/ports"
	apperrors "forumsearch/pkg/errors"
	"forumsearch/pkg/observability"

	"go.uber.org/zap"
)

const (
	// MaxPopularQueries bounds the popular query table
	MaxPopularQueries = 100
	// MaxSamples bounds each ring buffer
	MaxSamples = 1000
	// RetentionDays is how many day buckets are kept, today included
	RetentionDays = 30
	// MaxQueryBytes bounds a popular query key; longer queries are cut at a
	// rune boundary
	MaxQueryBytes = 128
	// MaxRecordBytes bounds the encoded record so it fits a single store
	// entry on the smallest supported memory arena
	MaxRecordBytes = 30 * 1024

	dayLayout = "2006-01-02"
)

// HitRater supplies the cache hit rate for snapshots
type HitRater interface {
	HitRate(ctx context.Context) float64
}

// record is the single stored aggregate
type record struct {
	SearchCount    int64            `json:"search_count"`
	PopularQueries map[string]int64 `json:"popular_queries"`
	ResponseTimes  []float64        `json:"response_times"`
	ResultCounts   []int            `json:"result_counts"`
	DailyCounts    map[string]int64 `json:"daily_counts"`
}

// QueryCount is one popular query entry
type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// Snapshot holds values derived from the stored record at read time
type Snapshot struct {
	TotalSearches   int64            `json:"total_searches"`
	PopularQueries  []QueryCount     `json:"popular_queries"`
	AvgResponseTime float64          `json:"avg_response_time"`
	AvgResultCount  float64          `json:"avg_result_count"`
	CacheHitRate    float64          `json:"cache_hit_rate"`
	DailyCounts     map[string]int64 `json:"daily_counts"`

	// Degraded is set when the record could not be read
	Degraded bool `json:"degraded,omitempty"`
}

// SearchStats maintains the aggregate with read-modify-write. Concurrent
// writers on different instances can lose updates; the figures are
// operational estimates.
type SearchStats struct {
	store    ports.Store
	hitRater HitRater
	ttl      time.Duration

	now    func() time.Time
	logger *zap.Logger
	warn   *observability.WarnOnce
}

// Option configures SearchStats
type Option func(*SearchStats)

// WithClock replaces the wall clock
func WithClock(now func() time.Time) Option {
	return func(s *SearchStats) {
		s.now = now
	}
}

// WithWarnOnce shares a warn-once gate with other components
func WithWarnOnce(warn *observability.WarnOnce) Option {
	return func(s *SearchStats) {
		s.warn = warn
	}
}

// NewSearchStats creates the aggregator. hitRater may be nil.
func NewSearchStats(store ports.Store, hitRater HitRater, ttl time.Duration, logger *zap.Logger, opts ...Option) (*SearchStats, error) {
	if store == nil {
		return nil, apperrors.NewValidationError("search stats requires a store")
	}
	if ttl <= 0 {
		return nil, apperrors.NewValidationErrorf("stats TTL must be positive, got %s", ttl)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &SearchStats{
		store:    store,
		hitRater: hitRater,
		ttl:      ttl,
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.warn == nil {
		s.warn = observability.NewWarnOnce(logger, time.Minute)
	}
	return s, nil
}

// Record adds one search to the aggregate. Queries are counted trimmed and
// lower-cased; blank queries count toward totals only.
func (s *SearchStats) Record(ctx context.Context, query string, resultCount int, responseTimeMs float64) {
	rec, err := s.load(ctx)
	if err != nil {
		s.storeError("get", err)
		return
	}

	rec.SearchCount++

	if q := normalizeQuery(query); q != "" {
		rec.PopularQueries[q]++
		if len(rec.PopularQueries) > MaxPopularQueries {
			top := topQueries(rec.PopularQueries, MaxPopularQueries)
			rec.PopularQueries = make(map[string]int64, len(top))
			for _, qc := range top {
				rec.PopularQueries[qc.Query] = qc.Count
			}
		}
	}

	rec.ResponseTimes = appendBounded(rec.ResponseTimes, roundMicros(responseTimeMs), MaxSamples)
	rec.ResultCounts = appendBounded(rec.ResultCounts, resultCount, MaxSamples)

	now := s.now().UTC()
	rec.DailyCounts[now.Format(dayLayout)]++
	cutoff := now.AddDate(0, 0, -(RetentionDays - 1)).Format(dayLayout)
	for day := range rec.DailyCounts {
		// ISO dates order lexically
		if day < cutoff {
			delete(rec.DailyCounts, day)
		}
	}

	raw, err := encodeBounded(rec)
	if err != nil {
		s.logger.Error("failed to encode search stats", zap.Error(err))
		return
	}
	if err := s.store.Set(ctx, cache.StatsRecordKey, raw, s.ttl); err != nil {
		s.storeError("set", err)
		return
	}
	s.warn.Recover("stats:store", "search stats store recovered")
}

// Snapshot derives the current statistics
func (s *SearchStats) Snapshot(ctx context.Context) Snapshot {
	snap := Snapshot{
		PopularQueries: []QueryCount{},
		DailyCounts:    map[string]int64{},
	}
	if s.hitRater != nil {
		snap.CacheHitRate = s.hitRater.HitRate(ctx)
	}

	rec, err := s.load(ctx)
	if err != nil {
		s.storeError("get", err)
		snap.Degraded = true
		return snap
	}

	snap.TotalSearches = rec.SearchCount
	snap.PopularQueries = topQueries(rec.PopularQueries, MaxPopularQueries)
	snap.AvgResponseTime = mean(rec.ResponseTimes)
	snap.AvgResultCount = mean(rec.ResultCounts)
	for day, n := range rec.DailyCounts {
		snap.DailyCounts[day] = n
	}
	return snap
}

// load returns the stored record, or an empty one if absent or malformed
func (s *SearchStats) load(ctx context.Context) (*record, error) {
	rec := &record{}
	raw, err := s.store.Get(ctx, cache.StatsRecordKey)
	switch {
	case errors.Is(err, ports.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		if err := json.Unmarshal(raw, rec); err != nil {
			s.logger.Warn("malformed search stats record, starting over", zap.Error(err))
			rec = &record{}
		}
	}

	if rec.PopularQueries == nil {
		rec.PopularQueries = make(map[string]int64)
	}
	if rec.DailyCounts == nil {
		rec.DailyCounts = make(map[string]int64)
	}
	return rec, nil
}

func (s *SearchStats) storeError(op string, err error) {
	s.warn.Warn("stats:store", "search stats store unavailable, skipping",
		zap.String("operation", op),
		zap.Error(err),
	)
}

// encodeBounded marshals rec, dropping the least popular queries until the
// encoding fits in MaxRecordBytes
func encodeBounded(rec *record) ([]byte, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	for len(raw) > MaxRecordBytes && len(rec.PopularQueries) > 0 {
		top := topQueries(rec.PopularQueries, len(rec.PopularQueries)*9/10)
		rec.PopularQueries = make(map[string]int64, len(top))
		for _, qc := range top {
			rec.PopularQueries[qc.Query] = qc.Count
		}
		if raw, err = json.Marshal(rec); err != nil {
			return nil, err
		}
	}
	return raw, nil
}

func normalizeQuery(q string) string {
	q = strings.ToLower(strings.TrimSpace(q))
	if len(q) <= MaxQueryBytes {
		return q
	}
	cut := MaxQueryBytes
	for cut > 0 && !utf8.RuneStart(q[cut]) {
		cut--
	}
	return strings.TrimSpace(q[:cut])
}

// roundMicros keeps response times at microsecond precision so samples
// encode compactly
func roundMicros(ms float64) float64 {
	return math.Round(ms*1000) / 1000
}

// topQueries sorts by count descending, then query ascending, and keeps n
func topQueries(counts map[string]int64, n int) []QueryCount {
	out := make([]QueryCount, 0, len(counts))
	for q, c := range counts {
		out = append(out, QueryCount{Query: q, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Query < out[j].Query
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func appendBounded[T any](buf []T, v T, limit int) []T {
	buf = append(buf, v)
	if len(buf) > limit {
		buf = buf[len(buf)-limit:]
	}
	return buf
}

func mean[T int | float64](xs []T) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += float64(x)
	}
	return sum / float64(len(xs))
}
