package handlers

import (
	"context"

	"forumsearch/application/queries"
	"forumsearch/application/stats"
)

// StatsReader is the statistics surface used by GetStatsHandler
type StatsReader interface {
	Snapshot(ctx context.Context) stats.Snapshot
}

// CounterReader exposes the raw cache counters
type CounterReader interface {
	Counts(ctx context.Context) (hits, misses int64)
}

// GetStatsHandler handles statistics queries
type GetStatsHandler struct {
	stats    StatsReader
	counters CounterReader
}

// NewGetStatsHandler creates a new stats handler
func NewGetStatsHandler(stats StatsReader, counters CounterReader) *GetStatsHandler {
	return &GetStatsHandler{
		stats:    stats,
		counters: counters,
	}
}

// Handle executes the stats query
func (h *GetStatsHandler) Handle(ctx context.Context, query queries.GetStatsQuery) (*queries.StatsResult, error) {
	snap := h.stats.Snapshot(ctx)

	result := &queries.StatsResult{
		TotalSearches:   snap.TotalSearches,
		PopularQueries:  make([]queries.PopularQuery, 0, len(snap.PopularQueries)),
		AvgResponseTime: snap.AvgResponseTime,
		AvgResultCount:  snap.AvgResultCount,
		CacheHitRate:    snap.CacheHitRate,
		DailyCounts:     snap.DailyCounts,
		Degraded:        snap.Degraded,
	}
	for _, pq := range snap.PopularQueries {
		result.PopularQueries = append(result.PopularQueries, queries.PopularQuery{Query: pq.Query, Count: pq.Count})
	}
	if h.counters != nil {
		result.CacheHits, result.CacheMisses = h.counters.Counts(ctx)
	}

	return result, nil
}
