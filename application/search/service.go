// Package search orchestrates admission control, the result cache, the
// search backend and statistics for a single search request.
package search

import (
	"context"
	"strings"
	"time"

	"forumsearch/application/cache"
	"forumsearch/application/ports"
	"forumsearch/application/stats"
	"forumsearch/pkg/auth"
	apperrors "forumsearch/pkg/errors"
	"forumsearch/pkg/observability"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Config holds search service settings
type Config struct {
	// ConfigVersion is cache.ConfigVersion of the active model config
	ConfigVersion string
	// MaxResults is how many hits are fetched and cached per query
	MaxResults      int
	DefaultLimit    int
	SuggestionLimit int
}

// Request is a search request
type Request struct {
	Query      string
	Filters    map[string]any
	Limit      int
	Identifier string
}

// Response is a search response. Decision is the admission decision for
// rate limit headers.
type Response struct {
	Query    string        `json:"query"`
	Results  []Result      `json:"results"`
	Total    int           `json:"total"`
	Cached   bool          `json:"cached"`
	TookMs   float64       `json:"took_ms"`
	Decision auth.Decision `json:"-"`
}

// SuggestionsResponse is a suggestions response
type SuggestionsResponse struct {
	Prefix      string        `json:"prefix"`
	Suggestions []string      `json:"suggestions"`
	Cached      bool          `json:"cached"`
	Decision    auth.Decision `json:"-"`
}

// Service runs the cache-aside search flow
type Service struct {
	backend ports.SearchBackend
	content ports.ContentSource
	cache   *cache.ResultCache
	limiter *auth.RateLimiter
	stats   *stats.SearchStats
	cfg     Config

	now     func() time.Time
	logger  *zap.Logger
	metrics *observability.Collector
	tracer  *observability.Tracer
}

// Option configures a Service
type Option func(*Service)

// WithContentSource enables reconciliation against live post content
func WithContentSource(content ports.ContentSource) Option {
	return func(s *Service) {
		s.content = content
	}
}

// WithMetrics records search latency and backend errors
func WithMetrics(metrics *observability.Collector) Option {
	return func(s *Service) {
		s.metrics = metrics
	}
}

// WithClock replaces the clock used for timings
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a search service
func NewService(
	backend ports.SearchBackend,
	resultCache *cache.ResultCache,
	limiter *auth.RateLimiter,
	searchStats *stats.SearchStats,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 50
	}
	if cfg.DefaultLimit <= 0 || cfg.DefaultLimit > cfg.MaxResults {
		cfg.DefaultLimit = min(20, cfg.MaxResults)
	}
	if cfg.SuggestionLimit <= 0 {
		cfg.SuggestionLimit = 10
	}

	s := &Service{
		backend: backend,
		cache:   resultCache,
		limiter: limiter,
		stats:   searchStats,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger,
		tracer:  observability.NewTracer("forumsearch"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search admits, looks up or fetches, reconciles and records one search
func (s *Service) Search(ctx context.Context, req Request) (*Response, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, apperrors.NewValidationError("query must not be empty")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	if limit > s.cfg.MaxResults {
		limit = s.cfg.MaxResults
	}

	decision, err := s.admit(ctx, auth.ActionSearch, req.Identifier)
	if err != nil {
		return nil, err
	}

	start := s.now()
	fp := cache.Fingerprint(query, req.Filters, s.cfg.ConfigVersion)

	var hits []ports.Hit
	cached := s.cache.Get(ctx, cache.NamespaceSearch, fp, &hits)
	if cached {
		s.cache.RecordHit(ctx)
	} else {
		s.cache.RecordMiss(ctx)

		err := s.tracer.TraceFunction(ctx, "backend.search", func(ctx context.Context) error {
			var err error
			hits, err = s.backend.Search(ctx, ports.SearchRequest{
				Query:   query,
				Filters: req.Filters,
				Limit:   s.cfg.MaxResults,
			})
			return err
		})
		if err != nil {
			s.metrics.BackendError("search")
			return nil, apperrors.NewExternalError("search backend", err)
		}
		if hits == nil {
			hits = []ports.Hit{}
		}
		s.cache.Put(ctx, cache.NamespaceSearch, fp, hits, 0)
	}

	results, err := reconcile(ctx, s.content, hits)
	if err != nil {
		s.metrics.BackendError("content")
		s.logger.Warn("content reconciliation failed, returning unreconciled hits",
			zap.Int("hits", len(hits)),
			zap.Error(err),
		)
		results, _ = reconcile(ctx, nil, hits)
	}
	total := len(results)
	if len(results) > limit {
		results = results[:limit]
	}

	elapsed := s.now().Sub(start)
	tookMs := float64(elapsed.Microseconds()) / 1000
	s.stats.Record(ctx, query, total, tookMs)
	s.metrics.ObserveSearch(cached, elapsed)

	s.logger.Debug("search served",
		zap.Bool("cached", cached),
		zap.Int("results", total),
		zap.Float64("took_ms", tookMs),
	)

	return &Response{
		Query:    query,
		Results:  results,
		Total:    total,
		Cached:   cached,
		TookMs:   tookMs,
		Decision: decision,
	}, nil
}

// Suggestions returns query completions for prefix
func (s *Service) Suggestions(ctx context.Context, prefix, identifier string) (*SuggestionsResponse, error) {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if prefix == "" {
		return nil, apperrors.NewValidationError("prefix must not be empty")
	}

	decision, err := s.admit(ctx, auth.ActionSuggestions, identifier)
	if err != nil {
		return nil, err
	}

	fp := cache.Fingerprint(prefix, nil, s.cfg.ConfigVersion)

	var suggestions []string
	cached := s.cache.Get(ctx, cache.NamespaceSuggestions, fp, &suggestions)
	if !cached {
		ctx, span := s.tracer.Start(ctx, "backend.suggest", attribute.Int("limit", s.cfg.SuggestionLimit))
		suggestions, err = s.backend.Suggest(ctx, prefix, s.cfg.SuggestionLimit)
		span.End()
		if err != nil {
			s.metrics.BackendError("suggest")
			return nil, apperrors.NewExternalError("search backend", err)
		}
		if suggestions == nil {
			suggestions = []string{}
		}
		s.cache.Put(ctx, cache.NamespaceSuggestions, fp, suggestions, 0)
	}

	return &SuggestionsResponse{
		Prefix:      prefix,
		Suggestions: suggestions,
		Cached:      cached,
		Decision:    decision,
	}, nil
}

// Embedding returns the embedding vector for text, cached per model config
func (s *Service) Embedding(ctx context.Context, text string) ([]float32, error) {
	embedder, ok := s.backend.(ports.Embedder)
	if !ok {
		return nil, apperrors.NewUnavailableError("embedding model")
	}

	fp := cache.Fingerprint(text, nil, s.cfg.ConfigVersion)

	var vec []float32
	if s.cache.Get(ctx, cache.NamespaceEmbedding, fp, &vec) {
		return vec, nil
	}

	ctx, span := s.tracer.Start(ctx, "backend.embed")
	vec, err := embedder.Embed(ctx, text)
	span.End()
	if err != nil {
		s.metrics.BackendError("embed")
		return nil, apperrors.NewExternalError("search backend", err)
	}
	s.cache.Put(ctx, cache.NamespaceEmbedding, fp, vec, 0)
	return vec, nil
}

// ModelInfo returns metadata about the active embedding model
func (s *Service) ModelInfo(ctx context.Context) (map[string]any, error) {
	embedder, ok := s.backend.(ports.Embedder)
	if !ok {
		return nil, apperrors.NewUnavailableError("embedding model")
	}

	fp := cache.Fingerprint("", nil, s.cfg.ConfigVersion)

	var info map[string]any
	if s.cache.Get(ctx, cache.NamespaceModel, fp, &info) {
		return info, nil
	}

	info, err := embedder.ModelInfo(ctx)
	if err != nil {
		s.metrics.BackendError("model")
		return nil, apperrors.NewExternalError("search backend", err)
	}
	if info == nil {
		info = map[string]any{}
	}
	info["config_version"] = s.cfg.ConfigVersion
	s.cache.Put(ctx, cache.NamespaceModel, fp, info, 0)
	return info, nil
}

// admit runs the rate limiter and converts a rejection into a RATE_LIMIT error
func (s *Service) admit(ctx context.Context, action auth.Action, identifier string) (auth.Decision, error) {
	decision, err := s.limiter.CheckAndRecord(ctx, action, identifier)
	if err != nil {
		return decision, err
	}
	if decision.Allowed {
		return decision, nil
	}
	return decision, auth.RateLimitError(action, decision, s.now())
}
