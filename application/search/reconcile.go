package search

import (
	"context"

	"forumsearch/application/ports"
)

// Result is a hit merged with live post content
type Result struct {
	PostID   string  `json:"post_id"`
	Score    float64 `json:"score"`
	TopicID  string  `json:"topic_id,omitempty"`
	Subject  string  `json:"subject,omitempty"`
	Body     string  `json:"body,omitempty"`
	Author   string  `json:"author,omitempty"`
	PostedAt int64   `json:"posted_at,omitempty"`
}

// reconcile merges hits with live content in backend order. Hits whose post
// no longer exists are dropped. Without a content source hits pass through
// with ids and scores only.
func reconcile(ctx context.Context, content ports.ContentSource, hits []ports.Hit) ([]Result, error) {
	if content == nil {
		out := make([]Result, 0, len(hits))
		for _, h := range hits {
			out = append(out, Result{PostID: h.PostID, Score: h.Score})
		}
		return out, nil
	}
	if len(hits) == 0 {
		return []Result{}, nil
	}

	ids := make([]string, 0, len(hits))
	seen := make(map[string]struct{}, len(hits))
	for _, h := range hits {
		if _, dup := seen[h.PostID]; dup {
			continue
		}
		seen[h.PostID] = struct{}{}
		ids = append(ids, h.PostID)
	}

	posts, err := content.Posts(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(hits))
	emitted := make(map[string]struct{}, len(hits))
	for _, h := range hits {
		post, ok := posts[h.PostID]
		if !ok {
			continue
		}
		if _, dup := emitted[h.PostID]; dup {
			continue
		}
		emitted[h.PostID] = struct{}{}
		out = append(out, Result{
			PostID:   h.PostID,
			Score:    h.Score,
			TopicID:  post.TopicID,
			Subject:  post.Subject,
			Body:     post.Body,
			Author:   post.Author,
			PostedAt: post.PostedAt,
		})
	}
	return out, nil
}
