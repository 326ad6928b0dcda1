package stats

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"forumsearch/application/cache"
	"forumsearch/application/ports"
	"forumsearch/infrastructure/persistence/kvstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixedHitRate float64

func (f fixedHitRate) HitRate(ctx context.Context) float64 { return float64(f) }

type downStore struct{}

func (downStore) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, ports.ErrUnavailable
}

func (downStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return ports.ErrUnavailable
}

func (downStore) Delete(ctx context.Context, key string) error {
	return ports.ErrUnavailable
}

func newStats(t *testing.T, store ports.Store, now *time.Time) *SearchStats {
	t.Helper()
	s, err := NewSearchStats(store, fixedHitRate(62.5), 24*time.Hour, zap.NewNop(),
		WithClock(func() time.Time { return *now }))
	require.NoError(t, err)
	return s
}

func TestSearchStats_RecordAndSnapshot(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	s := newStats(t, kvstore.NewMemoryStore(1024*1024), &now)

	s.Record(ctx, "Rust Async", 10, 100)
	s.Record(ctx, "  rust async ", 20, 200)
	s.Record(ctx, "golang", 0, 300)
	s.Record(ctx, "   ", 5, 400)

	snap := s.Snapshot(ctx)
	assert.False(t, snap.Degraded)
	assert.Equal(t, int64(4), snap.TotalSearches)
	assert.Equal(t, []QueryCount{
		{Query: "rust async", Count: 2},
		{Query: "golang", Count: 1},
	}, snap.PopularQueries)
	assert.InDelta(t, 250.0, snap.AvgResponseTime, 1e-9)
	assert.InDelta(t, 8.75, snap.AvgResultCount, 1e-9)
	assert.Equal(t, 62.5, snap.CacheHitRate)
	assert.Equal(t, map[string]int64{"2025-03-10": 4}, snap.DailyCounts)
}

func TestSearchStats_EmptySnapshot(t *testing.T) {
	now := time.Now()
	s := newStats(t, kvstore.NewMemoryStore(1024*1024), &now)

	snap := s.Snapshot(context.Background())
	assert.Equal(t, int64(0), snap.TotalSearches)
	assert.Empty(t, snap.PopularQueries)
	assert.Equal(t, float64(0), snap.AvgResponseTime)
	assert.Equal(t, float64(0), snap.AvgResultCount)
}

func TestSearchStats_PopularQueriesBounded(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	s := newStats(t, kvstore.NewMemoryStore(4*1024*1024), &now)

	s.Record(ctx, "favourite", 1, 1)
	s.Record(ctx, "favourite", 1, 1)
	for i := 0; i < MaxPopularQueries+20; i++ {
		s.Record(ctx, fmt.Sprintf("q%03d", i), 1, 1)
	}

	snap := s.Snapshot(ctx)
	require.Len(t, snap.PopularQueries, MaxPopularQueries)
	assert.Equal(t, QueryCount{Query: "favourite", Count: 2}, snap.PopularQueries[0])
	// ties are ordered alphabetically
	assert.Equal(t, "q000", snap.PopularQueries[1].Query)
	assert.Equal(t, int64(MaxPopularQueries+22), snap.TotalSearches)
}

func TestSearchStats_LongMultiByteQueriesKeepCounting(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	// smallest arena the configuration accepts
	s := newStats(t, kvstore.NewMemoryStore(32*1024*1024), &now)

	for i := 0; i < 150; i++ {
		q := fmt.Sprintf("%03d", i) + strings.Repeat("検", 253)
		s.Record(ctx, q, 7, float64(i)+0.123456789)
	}

	snap := s.Snapshot(ctx)
	assert.False(t, snap.Degraded)
	assert.Equal(t, int64(150), snap.TotalSearches)
	require.Len(t, snap.PopularQueries, MaxPopularQueries)
	for _, qc := range snap.PopularQueries {
		assert.LessOrEqual(t, len(qc.Query), MaxQueryBytes)
		assert.True(t, utf8.ValidString(qc.Query))
	}
	assert.InDelta(t, 74.623, snap.AvgResponseTime, 1e-6)
}

func TestEncodeBounded_DropsLeastPopular(t *testing.T) {
	rec := &record{PopularQueries: map[string]int64{}, DailyCounts: map[string]int64{}}
	for i := 0; i < 200; i++ {
		rec.PopularQueries[fmt.Sprintf("%03d%s", i, strings.Repeat("x", 1000))] = int64(i + 1)
	}

	raw, err := encodeBounded(rec)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(raw), MaxRecordBytes)
	assert.NotEmpty(t, rec.PopularQueries)
	assert.Contains(t, rec.PopularQueries, "199"+strings.Repeat("x", 1000))
}

func TestNormalizeQuery_CutsAtRuneBoundary(t *testing.T) {
	assert.Equal(t, "rust async", normalizeQuery("  Rust Async "))

	q := normalizeQuery("a" + strings.Repeat("検", 100))
	assert.Len(t, q, 127)
	assert.True(t, utf8.ValidString(q))
}

func TestSearchStats_RingBuffersKeepLatest(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	s := newStats(t, kvstore.NewMemoryStore(16*1024*1024), &now)

	for i := 0; i < MaxSamples; i++ {
		s.Record(ctx, "", 0, 0)
	}
	for i := 0; i < MaxSamples; i++ {
		s.Record(ctx, "", 10, 50)
	}

	snap := s.Snapshot(ctx)
	assert.Equal(t, int64(2*MaxSamples), snap.TotalSearches)
	assert.InDelta(t, 50.0, snap.AvgResponseTime, 1e-9)
	assert.InDelta(t, 10.0, snap.AvgResultCount, 1e-9)
}

func TestSearchStats_DailyCountsPruned(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	now := start
	s := newStats(t, kvstore.NewMemoryStore(1024*1024), &now)

	for day := 0; day < 40; day++ {
		now = start.AddDate(0, 0, day)
		s.Record(ctx, "q", 1, 1)
	}

	snap := s.Snapshot(ctx)
	assert.Len(t, snap.DailyCounts, RetentionDays)
	assert.Contains(t, snap.DailyCounts, "2025-02-09")
	assert.Contains(t, snap.DailyCounts, "2025-01-11")
	assert.NotContains(t, snap.DailyCounts, "2025-01-10")
}

func TestSearchStats_MalformedRecordStartsOver(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := kvstore.NewMemoryStore(1024 * 1024)
	require.NoError(t, store.Set(ctx, cache.StatsRecordKey, []byte("garbage"), 0))
	s := newStats(t, store, &now)

	s.Record(ctx, "q", 1, 1)
	assert.Equal(t, int64(1), s.Snapshot(ctx).TotalSearches)
}

func TestSearchStats_StoreUnavailable(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s := newStats(t, downStore{}, &now)

	assert.NotPanics(t, func() { s.Record(ctx, "q", 1, 1) })
	snap := s.Snapshot(ctx)
	assert.True(t, snap.Degraded)
	assert.Equal(t, 62.5, snap.CacheHitRate)
}

func TestNewSearchStats_Validation(t *testing.T) {
	_, err := NewSearchStats(kvstore.NewMemoryStore(1024*1024), nil, 0, nil)
	assert.Error(t, err)
	_, err = NewSearchStats(nil, nil, time.Hour, nil)
	assert.Error(t, err)
}
