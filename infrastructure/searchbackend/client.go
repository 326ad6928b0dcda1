// Package searchbackend is the HTTP client for the semantic search sidecar
// that wraps the full-text index and the embedding model.
package searchbackend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"forumsearch/application/ports"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// maxResponseBytes bounds how much of a sidecar response is read
const maxResponseBytes = 8 << 20

// Config holds the sidecar client settings
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client calls the sidecar over JSON/HTTP. It implements
// ports.SearchBackend, ports.Embedder and ports.ContentSource.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
	logger     *zap.Logger
}

// NewClient creates a sidecar client
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid search backend URL %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "search-backend",
		Timeout: 15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("search backend circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cb:         cb,
		logger:     logger,
	}, nil
}

// StatusError is returned for non-2xx sidecar responses
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("search backend returned %d: %s", e.Status, e.Body)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out interface{}) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, method, path, query, in, out)
	})
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, in, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, maxResponseBytes)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(limited, 512))
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(limited).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

type searchResponse struct {
	Hits []ports.Hit `json:"hits"`
}

// Search runs a query against the sidecar
func (c *Client) Search(ctx context.Context, req ports.SearchRequest) ([]ports.Hit, error) {
	var resp searchResponse
	if err := c.do(ctx, http.MethodPost, "/search", nil, req, &resp); err != nil {
		return nil, err
	}
	return resp.Hits, nil
}

type suggestResponse struct {
	Suggestions []string `json:"suggestions"`
}

// Suggest returns completions for prefix
func (c *Client) Suggest(ctx context.Context, prefix string, limit int) ([]string, error) {
	q := url.Values{}
	q.Set("q", prefix)
	q.Set("limit", strconv.Itoa(limit))

	var resp suggestResponse
	if err := c.do(ctx, http.MethodGet, "/suggest", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Suggestions, nil
}

type embedRequest struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed returns the embedding vector for text
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp embedResponse
	if err := c.do(ctx, http.MethodPost, "/embed", nil, embedRequest{Text: text}, &resp); err != nil {
		return nil, err
	}
	return resp.Embedding, nil
}

// ModelInfo returns metadata about the loaded model
func (c *Client) ModelInfo(ctx context.Context) (map[string]any, error) {
	var info map[string]any
	if err := c.do(ctx, http.MethodGet, "/model", nil, nil, &info); err != nil {
		return nil, err
	}
	return info, nil
}

type postsRequest struct {
	IDs []string `json:"ids"`
}

type postsResponse struct {
	Posts []ports.Post `json:"posts"`
}

// Posts loads live content for ids. Ids of deleted posts are absent.
func (c *Client) Posts(ctx context.Context, ids []string) (map[string]ports.Post, error) {
	var resp postsResponse
	if err := c.do(ctx, http.MethodPost, "/posts", nil, postsRequest{IDs: ids}, &resp); err != nil {
		return nil, err
	}

	out := make(map[string]ports.Post, len(resp.Posts))
	for _, p := range resp.Posts {
		out[p.ID] = p
	}
	return out, nil
}

// Ping checks that the sidecar answers
func (c *Client) Ping(ctx context.Context) error {
	return c.roundTrip(ctx, http.MethodGet, "/model", nil, nil, nil)
}
