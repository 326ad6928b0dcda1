package handlers

import (
	"context"

	"forumsearch/application/queries"
	"forumsearch/application/search"

	"go.uber.org/zap"
)

// Searcher is the search service surface used by query handlers
type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Response, error)
	Suggestions(ctx context.Context, prefix, identifier string) (*search.SuggestionsResponse, error)
	ModelInfo(ctx context.Context) (map[string]any, error)
}

// SearchHandler handles search queries
type SearchHandler struct {
	searcher Searcher
	logger   *zap.Logger
}

// NewSearchHandler creates a new search handler
func NewSearchHandler(searcher Searcher, logger *zap.Logger) *SearchHandler {
	return &SearchHandler{
		searcher: searcher,
		logger:   logger,
	}
}

// Handle executes the search query
func (h *SearchHandler) Handle(ctx context.Context, query queries.SearchQuery) (*search.Response, error) {
	return h.searcher.Search(ctx, search.Request{
		Query:      query.Query,
		Filters:    query.Filters,
		Limit:      query.Limit,
		Identifier: query.Identifier,
	})
}

// SuggestionsHandler handles suggestion queries
type SuggestionsHandler struct {
	searcher Searcher
}

// NewSuggestionsHandler creates a new suggestions handler
func NewSuggestionsHandler(searcher Searcher) *SuggestionsHandler {
	return &SuggestionsHandler{searcher: searcher}
}

// Handle executes the suggestions query
func (h *SuggestionsHandler) Handle(ctx context.Context, query queries.SuggestionsQuery) (*search.SuggestionsResponse, error) {
	return h.searcher.Suggestions(ctx, query.Prefix, query.Identifier)
}

// GetModelInfoHandler handles model metadata queries
type GetModelInfoHandler struct {
	searcher Searcher
}

// NewGetModelInfoHandler creates a new model info handler
func NewGetModelInfoHandler(searcher Searcher) *GetModelInfoHandler {
	return &GetModelInfoHandler{searcher: searcher}
}

// Handle executes the model info query
func (h *GetModelInfoHandler) Handle(ctx context.Context, query queries.GetModelInfoQuery) (map[string]any, error) {
	return h.searcher.ModelInfo(ctx)
}
