package handlers

import (
	"context"
	"errors"

	"forumsearch/application/ports"
	"forumsearch/application/queries"
	"forumsearch/pkg/auth"
	apperrors "forumsearch/pkg/errors"
)

// LimitPeeker reads rate limit state without recording
type LimitPeeker interface {
	Peek(ctx context.Context, action auth.Action, identifier string) (auth.Decision, error)
	Policies() map[auth.Action]auth.Policy
}

// GetRateLimitHandler handles rate limit status queries
type GetRateLimitHandler struct {
	limiter LimitPeeker
}

// NewGetRateLimitHandler creates a new rate limit status handler
func NewGetRateLimitHandler(limiter LimitPeeker) *GetRateLimitHandler {
	return &GetRateLimitHandler{limiter: limiter}
}

// Handle executes the rate limit status query
func (h *GetRateLimitHandler) Handle(ctx context.Context, query queries.GetRateLimitQuery) (*queries.RateLimitStatus, error) {
	action := auth.Action(query.Action)

	d, err := h.limiter.Peek(ctx, action, query.Identifier)
	if errors.Is(err, ports.ErrUnavailable) {
		return nil, apperrors.NewUnavailableError("rate limit store").WithCause(err)
	}
	if err != nil {
		return nil, err
	}

	return &queries.RateLimitStatus{
		Action:       query.Action,
		Identifier:   query.Identifier,
		Limit:        h.limiter.Policies()[action].Requests,
		Remaining:    d.Remaining,
		ResetTime:    d.ResetTime,
		BlockedUntil: d.BlockedUntil,
	}, nil
}
