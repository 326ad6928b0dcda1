package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"forumsearch/application/queries"
	querybus "forumsearch/application/queries/bus"
	"forumsearch/application/search"
	"forumsearch/interfaces/http/rest/middleware"
	"forumsearch/pkg/auth"
	"forumsearch/pkg/common"
	apperrors "forumsearch/pkg/errors"

	"go.uber.org/zap"
)

// reservedParams are search parameters that are not filters
var reservedParams = map[string]struct{}{"q": {}, "limit": {}}

// PolicySource reports the active rate limit policies
type PolicySource interface {
	Policies() map[auth.Action]auth.Policy
}

// SearchHandler handles search and suggestion requests
type SearchHandler struct {
	queryBus *querybus.QueryBus
	policies PolicySource
	errors   *apperrors.ErrorHandler
	logger   *zap.Logger
}

// NewSearchHandler creates a new search handler
func NewSearchHandler(queryBus *querybus.QueryBus, policies PolicySource, eh *apperrors.ErrorHandler, logger *zap.Logger) *SearchHandler {
	return &SearchHandler{
		queryBus: queryBus,
		policies: policies,
		errors:   eh,
		logger:   logger,
	}
}

// Search handles GET /api/v1/search?q=&limit=&<filter>=
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	limit := 0
	if raw := params.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.errors.Handle(w, r, apperrors.NewValidationErrorf("limit must be an integer, got %q", raw))
			return
		}
		limit = n
	}

	identity, _ := common.GetIdentity(r.Context())
	query := queries.SearchQuery{
		Query:      strings.TrimSpace(params.Get("q")),
		Filters:    parseFilters(params),
		Limit:      limit,
		Identifier: identity,
	}

	result, err := h.queryBus.Ask(r.Context(), query)
	if err != nil {
		h.handleError(w, r, auth.ActionSearch, err)
		return
	}

	resp, ok := result.(*search.Response)
	if !ok {
		h.errors.Handle(w, r, fmt.Errorf("unexpected search result %T", result))
		return
	}

	middleware.WriteRateLimitHeaders(w, h.limit(auth.ActionSearch), resp.Decision)
	writeCacheHeader(w, resp.Cached)
	common.RespondJSON(w, r, http.StatusOK, resp)
}

// Suggestions handles GET /api/v1/suggestions?q=
func (h *SearchHandler) Suggestions(w http.ResponseWriter, r *http.Request) {
	identity, _ := common.GetIdentity(r.Context())
	query := queries.SuggestionsQuery{
		Prefix:     strings.TrimSpace(r.URL.Query().Get("q")),
		Identifier: identity,
	}

	result, err := h.queryBus.Ask(r.Context(), query)
	if err != nil {
		h.handleError(w, r, auth.ActionSuggestions, err)
		return
	}

	resp, ok := result.(*search.SuggestionsResponse)
	if !ok {
		h.errors.Handle(w, r, fmt.Errorf("unexpected suggestions result %T", result))
		return
	}

	middleware.WriteRateLimitHeaders(w, h.limit(auth.ActionSuggestions), resp.Decision)
	writeCacheHeader(w, resp.Cached)
	common.RespondJSON(w, r, http.StatusOK, resp)
}

func (h *SearchHandler) limit(action auth.Action) int {
	return h.policies.Policies()[action].Requests
}

// handleError adds rate limit headers to rejections before writing the error
func (h *SearchHandler) handleError(w http.ResponseWriter, r *http.Request, action auth.Action, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Type == apperrors.ErrorTypeRateLimit {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(h.limit(action)))
		w.Header().Set("X-RateLimit-Remaining", "0")
		if reset, ok := appErr.Details["reset_time"].(int64); ok {
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))
		}
	}
	h.errors.Handle(w, r, err)
}

// parseFilters turns every non-reserved parameter into a filter. Integer
// values are passed as numbers so "board=3" and a JSON filter of 3 share a
// fingerprint.
func parseFilters(params map[string][]string) map[string]any {
	var filters map[string]any
	for key, values := range params {
		if _, reserved := reservedParams[key]; reserved || len(values) == 0 {
			continue
		}
		if filters == nil {
			filters = make(map[string]any)
		}
		v := values[0]
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			filters[key] = n
		} else {
			filters[key] = v
		}
	}
	return filters
}

func writeCacheHeader(w http.ResponseWriter, cached bool) {
	if cached {
		w.Header().Set("X-Cache", "HIT")
		return
	}
	w.Header().Set("X-Cache", "MISS")
}
