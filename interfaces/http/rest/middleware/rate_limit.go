package middleware

import (
	"net/http"
	"strconv"
	"time"

	"forumsearch/pkg/auth"
	"forumsearch/pkg/common"
	apperrors "forumsearch/pkg/errors"
	"forumsearch/pkg/utils"
)

// Identity stores the caller's rate limit identity in the request context.
// It must run after Authenticate.
func Identity(resolver *auth.IdentityResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := common.WithIdentity(r.Context(), resolver.Identity(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimit admits requests under action before they reach the handler
func RateLimit(limiter *auth.RateLimiter, action auth.Action, eh *apperrors.ErrorHandler) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, _ := common.GetIdentity(r.Context())

			decision, err := limiter.CheckAndRecord(r.Context(), action, identity)
			if err != nil {
				eh.Handle(w, r, err)
				return
			}

			WriteRateLimitHeaders(w, limiter.Policies()[action].Requests, decision)
			if !decision.Allowed {
				eh.Handle(w, r, auth.RateLimitError(action, decision, time.Now()))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// WriteRateLimitHeaders sets the X-RateLimit-* headers for a decision.
// Degraded decisions carry no headers since nothing was counted.
func WriteRateLimitHeaders(w http.ResponseWriter, limit int, d auth.Decision) {
	if d.Degraded {
		return
	}
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", utils.UnixSeconds(d.ResetTime))
}
