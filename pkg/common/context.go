package common

import (
	"context"
	"time"
)

// ContextKey represents a context key type
type ContextKey string

// Context keys
const (
	ContextKeyIdentity  ContextKey = "identity"
	ContextKeyStartTime ContextKey = "start_time"
)

// WithIdentity adds the rate limit identity (user:<id> or ip:<addr>) to context
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, ContextKeyIdentity, identity)
}

// GetIdentity extracts the rate limit identity from context
func GetIdentity(ctx context.Context) (string, bool) {
	identity, ok := ctx.Value(ContextKeyIdentity).(string)
	return identity, ok && identity != ""
}

// WithStartTime adds start time to context
func WithStartTime(ctx context.Context, startTime time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyStartTime, startTime)
}

// GetStartTime extracts start time from context
func GetStartTime(ctx context.Context) (time.Time, bool) {
	startTime, ok := ctx.Value(ContextKeyStartTime).(time.Time)
	return startTime, ok
}

// GetElapsedTime calculates elapsed time from start time in context
func GetElapsedTime(ctx context.Context) time.Duration {
	if startTime, ok := GetStartTime(ctx); ok {
		return time.Since(startTime)
	}
	return 0
}
