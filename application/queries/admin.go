package queries

import (
	"time"

	"forumsearch/pkg/utils"
)

// GetStatsQuery reads the search statistics snapshot
type GetStatsQuery struct{}

// Validate validates the GetStatsQuery
func (q GetStatsQuery) Validate() error {
	return nil
}

// GetModelInfoQuery reads the embedding model metadata
type GetModelInfoQuery struct{}

// Validate validates the GetModelInfoQuery
func (q GetModelInfoQuery) Validate() error {
	return nil
}

// StatsResult is the admin statistics view
type StatsResult struct {
	TotalSearches   int64            `json:"total_searches"`
	PopularQueries  []PopularQuery   `json:"popular_queries"`
	AvgResponseTime float64          `json:"avg_response_time"`
	AvgResultCount  float64          `json:"avg_result_count"`
	CacheHitRate    float64          `json:"cache_hit_rate"`
	CacheHits       int64            `json:"cache_hits"`
	CacheMisses     int64            `json:"cache_misses"`
	DailyCounts     map[string]int64 `json:"daily_counts"`
	Degraded        bool             `json:"degraded,omitempty"`
}

// PopularQuery is one entry of the popular query table
type PopularQuery struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// GetRateLimitQuery reads one identifier's rate limit state without
// recording a request
type GetRateLimitQuery struct {
	Action     string `json:"action" validate:"required,oneof=search suggestions admin"`
	Identifier string `json:"identifier" validate:"required,max=128"`
}

// Validate validates the GetRateLimitQuery
func (q GetRateLimitQuery) Validate() error {
	return utils.ValidateStruct(q)
}

// RateLimitStatus is the admin view of one rate limit window
type RateLimitStatus struct {
	Action       string     `json:"action"`
	Identifier   string     `json:"identifier"`
	Limit        int        `json:"limit"`
	Remaining    int        `json:"remaining"`
	ResetTime    time.Time  `json:"reset_time"`
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
}
