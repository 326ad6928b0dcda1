package rest_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"forumsearch/application/ports"
	"forumsearch/infrastructure/config"
	"forumsearch/infrastructure/di"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const clientAddr = "203.0.113.7:5555"

// sidecar fakes the semantic search service
type sidecar struct {
	server   *httptest.Server
	searches atomic.Int32
}

func newSidecar(t *testing.T) *sidecar {
	s := &sidecar{}
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		s.searches.Add(1)
		writeJSON(w, map[string]any{"hits": []ports.Hit{
			{PostID: "p1", Score: 0.9},
			{PostID: "p2", Score: 0.7},
		}})
	})
	mux.HandleFunc("/suggest", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"suggestions": []string{"golang", "gopher"}})
	})
	mux.HandleFunc("/posts", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"posts": []ports.Post{
			{ID: "p1", Subject: "Go generics", Body: "type parameters"},
			{ID: "p2", Subject: "Go modules", Body: "go.mod"},
		}})
	})
	mux.HandleFunc("/model", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"name": "all-MiniLM-L6-v2", "dimensions": 384})
	})
	s.server = httptest.NewServer(mux)
	t.Cleanup(s.server.Close)
	return s
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type fixture struct {
	router    *chi.Mux
	container *di.Container
	sidecar   *sidecar
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, nil)
}

func newFixtureWith(t *testing.T, configure func(*config.Config)) *fixture {
	t.Helper()
	sc := newSidecar(t)

	cfg := config.Default()
	cfg.Environment = "test"
	cfg.LogLevel = "error"
	cfg.Backend.URL = sc.server.URL
	cfg.JWTSecret = "test-secret"
	cfg.RateLimits = map[string]config.RateLimitConfig{
		"search": {Requests: 2, Window: time.Minute, Block: time.Minute},
	}
	if configure != nil {
		configure(cfg)
	}
	require.NoError(t, cfg.Validate())

	container, cleanup, err := di.InitializeContainer(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(cleanup)

	return &fixture{
		router:    container.Router.Setup(),
		container: container,
		sidecar:   sc,
	}
}

func (f *fixture) do(t *testing.T, method, target, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.RemoteAddr = clientAddr
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) token(t *testing.T, roles ...string) string {
	t.Helper()
	token, err := f.container.Validator.GenerateToken("u-1", "u1@example.com", roles)
	require.NoError(t, err)
	return token
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRouter_Health(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
}

func TestRouter_Ready(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/ready", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	f.sidecar.server.Close()

	rec = f.do(t, http.MethodGet, "/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRouter_SearchCachesAndRateLimits(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/search?q=golang", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))

	data := decode(t, rec)["data"].(map[string]any)
	assert.Len(t, data["results"], 2)

	rec = f.do(t, http.MethodGet, "/api/v1/search?q=golang", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, int32(1), f.sidecar.searches.Load(), "second search served from cache")

	rec = f.do(t, http.MethodGet, "/api/v1/search?q=golang", "", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	body := decode(t, rec)
	assert.Equal(t, "RATE_LIMITED_SEARCH", body["code"])
}

func TestRouter_ForwardedForCannotRotateIdentity(t *testing.T) {
	f := newFixtureWith(t, func(cfg *config.Config) {
		cfg.TrustForwardedFor = true
	})

	search := func(xff string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/search?q=golang", nil)
		req.RemoteAddr = clientAddr
		req.Header.Set("X-Forwarded-For", xff)
		req.Header.Set("X-Real-IP", xff)
		req.Header.Set("True-Client-IP", xff)
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		return rec.Code
	}

	admitted := 0
	for i := 1; i <= 10; i++ {
		if search(fmt.Sprintf("10.0.0.%d", i)) == http.StatusOK {
			admitted++
		}
	}
	assert.Equal(t, 2, admitted, "private forwarded addresses fall back to the connection address")

	// a public first entry is a distinct caller
	assert.Equal(t, http.StatusOK, search("8.8.8.8, 10.0.0.1"))
}

func TestRouter_SearchValidation(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/search?q=", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/search?q=go&limit=ten", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_Suggestions(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/suggestions?q=go", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))

	data := decode(t, rec)["data"].(map[string]any)
	assert.ElementsMatch(t, []any{"golang", "gopher"}, data["suggestions"])
}

func TestRouter_AdminRequiresRole(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/admin/stats", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/admin/stats", "not-a-token", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/admin/stats", f.token(t, "user"), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/admin/stats", f.token(t, "admin"), "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_AdminOperations(t *testing.T) {
	f := newFixture(t)
	admin := f.token(t, "admin")

	for i := 0; i < 3; i++ {
		f.do(t, http.MethodGet, "/api/v1/search?q=golang", "", "")
	}
	rec := f.do(t, http.MethodGet, "/api/v1/search?q=golang", "", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/admin/stats", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, float64(2), stats["total_searches"])

	rec = f.do(t, http.MethodGet, "/api/v1/admin/ratelimit/search/ip:203.0.113.7", admin, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	status := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, float64(0), status["remaining"])
	assert.NotNil(t, status["blocked_until"])

	rec = f.do(t, http.MethodDelete, "/api/v1/admin/ratelimit/search/ip:203.0.113.7", admin, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/v1/admin/cache/invalidate", admin, `{"prefix":"stats"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cleared := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, float64(3), cleared["cleared"])

	rec = f.do(t, http.MethodGet, "/api/v1/admin/stats", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats = decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, float64(0), stats["total_searches"])

	// Fingerprinted entries are not enumerable and survive invalidation
	rec = f.do(t, http.MethodGet, "/api/v1/search?q=golang", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	assert.Equal(t, int32(1), f.sidecar.searches.Load())

	rec = f.do(t, http.MethodGet, "/api/v1/admin/model", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	model := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, "all-MiniLM-L6-v2", model["name"])
}

func TestRouter_AdminRejectsUnknownAction(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodDelete, "/api/v1/admin/ratelimit/upload/ip:1.2.3.4", f.token(t, "admin"), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_NotFound(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v2/nothing", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, true, decode(t, rec)["error"])
}

func TestRouter_Metrics(t *testing.T) {
	f := newFixture(t)

	f.do(t, http.MethodGet, "/api/v1/search?q=golang", "", "")

	rec := f.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "forumsearch_cache_misses_total")
}
