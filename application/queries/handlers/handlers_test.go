package handlers

import (
	"context"
	"testing"
	"time"

	"forumsearch/application/ports"
	"forumsearch/application/queries"
	"forumsearch/application/search"
	"forumsearch/application/stats"
	"forumsearch/pkg/auth"
	apperrors "forumsearch/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockSearcher struct {
	mock.Mock
}

func (m *MockSearcher) Search(ctx context.Context, req search.Request) (*search.Response, error) {
	args := m.Called(ctx, req)
	if r := args.Get(0); r != nil {
		return r.(*search.Response), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSearcher) Suggestions(ctx context.Context, prefix, identifier string) (*search.SuggestionsResponse, error) {
	args := m.Called(ctx, prefix, identifier)
	if r := args.Get(0); r != nil {
		return r.(*search.SuggestionsResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSearcher) ModelInfo(ctx context.Context) (map[string]any, error) {
	args := m.Called(ctx)
	if r := args.Get(0); r != nil {
		return r.(map[string]any), args.Error(1)
	}
	return nil, args.Error(1)
}

type fixedStats struct {
	snap stats.Snapshot
}

func (f fixedStats) Snapshot(ctx context.Context) stats.Snapshot { return f.snap }

type fixedCounters struct{ hits, misses int64 }

func (f fixedCounters) Counts(ctx context.Context) (int64, int64) { return f.hits, f.misses }

type MockPeeker struct {
	mock.Mock
}

func (m *MockPeeker) Peek(ctx context.Context, action auth.Action, identifier string) (auth.Decision, error) {
	args := m.Called(ctx, action, identifier)
	return args.Get(0).(auth.Decision), args.Error(1)
}

func (m *MockPeeker) Policies() map[auth.Action]auth.Policy {
	return auth.DefaultPolicies()
}

func TestSearchHandler_PassesRequestThrough(t *testing.T) {
	searcher := new(MockSearcher)
	want := &search.Response{Query: "gpu", Total: 1}
	searcher.On("Search", mock.Anything, search.Request{
		Query:      "gpu",
		Filters:    map[string]any{"board": int64(3)},
		Limit:      5,
		Identifier: "ip:203.0.113.4",
	}).Return(want, nil)

	h := NewSearchHandler(searcher, zap.NewNop())
	got, err := h.Handle(context.Background(), queries.SearchQuery{
		Query:      "gpu",
		Filters:    map[string]any{"board": int64(3)},
		Limit:      5,
		Identifier: "ip:203.0.113.4",
	})
	require.NoError(t, err)
	assert.Same(t, want, got)
	searcher.AssertExpectations(t)
}

func TestGetStatsHandler(t *testing.T) {
	h := NewGetStatsHandler(fixedStats{snap: stats.Snapshot{
		TotalSearches:  4,
		PopularQueries: []stats.QueryCount{{Query: "gpu", Count: 3}, {Query: "ram", Count: 1}},
		CacheHitRate:   25,
		DailyCounts:    map[string]int64{"2024-01-02": 4},
	}}, fixedCounters{hits: 1, misses: 3})

	got, err := h.Handle(context.Background(), queries.GetStatsQuery{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.TotalSearches)
	assert.Equal(t, []queries.PopularQuery{{Query: "gpu", Count: 3}, {Query: "ram", Count: 1}}, got.PopularQueries)
	assert.Equal(t, int64(1), got.CacheHits)
	assert.Equal(t, int64(3), got.CacheMisses)
	assert.Equal(t, float64(25), got.CacheHitRate)
}

func TestGetRateLimitHandler(t *testing.T) {
	reset := time.Unix(1_700_000_060, 0)
	peeker := new(MockPeeker)
	peeker.On("Peek", mock.Anything, auth.ActionSearch, "user:7").
		Return(auth.Decision{Allowed: true, Remaining: 12, ResetTime: reset}, nil).Once()
	peeker.On("Peek", mock.Anything, auth.ActionSearch, "user:8").
		Return(auth.Decision{}, ports.ErrUnavailable).Once()

	h := NewGetRateLimitHandler(peeker)

	got, err := h.Handle(context.Background(), queries.GetRateLimitQuery{Action: "search", Identifier: "user:7"})
	require.NoError(t, err)
	assert.Equal(t, 30, got.Limit)
	assert.Equal(t, 12, got.Remaining)
	assert.Equal(t, reset, got.ResetTime)

	_, err = h.Handle(context.Background(), queries.GetRateLimitQuery{Action: "search", Identifier: "user:8"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeUnavailable))
}

func TestGetRateLimitQuery_Validate(t *testing.T) {
	assert.NoError(t, queries.GetRateLimitQuery{Action: "admin", Identifier: "ip:1.1.1.1"}.Validate())
	assert.True(t, apperrors.IsValidation(queries.GetRateLimitQuery{Action: "upload", Identifier: "x"}.Validate()))
	assert.True(t, apperrors.IsValidation(queries.GetRateLimitQuery{Action: "search"}.Validate()))
}
