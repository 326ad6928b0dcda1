package ports

import "context"

// SearchRequest is what the search backend receives
type SearchRequest struct {
	Query   string         `json:"query"`
	Filters map[string]any `json:"filters,omitempty"`
	Limit   int            `json:"limit"`
}

// Hit is a single backend match. Hits carry ids and scores only; post
// content is loaded live from a ContentSource.
type Hit struct {
	PostID string  `json:"post_id"`
	Score  float64 `json:"score"`
}

// Post is the live content for a hit
type Post struct {
	ID       string `json:"id"`
	TopicID  string `json:"topic_id"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	Author   string `json:"author"`
	PostedAt int64  `json:"posted_at"`
}

// SearchBackend runs full-text and embedding search
type SearchBackend interface {
	Search(ctx context.Context, req SearchRequest) ([]Hit, error)
	Suggest(ctx context.Context, prefix string, limit int) ([]string, error)
}

// Embedder is implemented by backends that expose their embedding model
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	ModelInfo(ctx context.Context) (map[string]any, error)
}

// ContentSource loads live post content for a set of ids. Missing ids are
// omitted from the returned map.
type ContentSource interface {
	Posts(ctx context.Context, ids []string) (map[string]Post, error)
}
