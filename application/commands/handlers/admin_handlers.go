package handlers

import (
	"context"

	"forumsearch/application/commands"
	"forumsearch/pkg/auth"

	"go.uber.org/zap"
)

// Invalidator clears registered cache keys
type Invalidator interface {
	Invalidate(ctx context.Context, prefix string) int
}

// LimitResetter clears rate limit state
type LimitResetter interface {
	Reset(ctx context.Context, action auth.Action, identifier string) error
}

// InvalidateCacheHandler handles cache invalidation commands
type InvalidateCacheHandler struct {
	cache  Invalidator
	logger *zap.Logger
}

// NewInvalidateCacheHandler creates a new invalidate cache handler
func NewInvalidateCacheHandler(cache Invalidator, logger *zap.Logger) *InvalidateCacheHandler {
	return &InvalidateCacheHandler{
		cache:  cache,
		logger: logger,
	}
}

// Handle executes the invalidate cache command
func (h *InvalidateCacheHandler) Handle(ctx context.Context, cmd commands.InvalidateCacheCommand) (*commands.InvalidateCacheResult, error) {
	cleared := h.cache.Invalidate(ctx, cmd.Prefix)
	return &commands.InvalidateCacheResult{
		Prefix:  cmd.Prefix,
		Cleared: cleared,
	}, nil
}

// ResetRateLimitHandler handles rate limit reset commands
type ResetRateLimitHandler struct {
	limiter LimitResetter
	logger  *zap.Logger
}

// NewResetRateLimitHandler creates a new reset rate limit handler
func NewResetRateLimitHandler(limiter LimitResetter, logger *zap.Logger) *ResetRateLimitHandler {
	return &ResetRateLimitHandler{
		limiter: limiter,
		logger:  logger,
	}
}

// Handle executes the reset rate limit command
func (h *ResetRateLimitHandler) Handle(ctx context.Context, cmd commands.ResetRateLimitCommand) (*commands.ResetRateLimitResult, error) {
	if err := h.limiter.Reset(ctx, auth.Action(cmd.Action), cmd.Identifier); err != nil {
		return nil, err
	}
	return &commands.ResetRateLimitResult{
		Action:     cmd.Action,
		Identifier: cmd.Identifier,
		Reset:      true,
	}, nil
}
