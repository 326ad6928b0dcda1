package middleware

import (
	"errors"
	"net/http"
	"strings"

	"forumsearch/pkg/auth"
	apperrors "forumsearch/pkg/errors"

	"go.uber.org/zap"
)

// Authenticate validates a bearer token when one is presented. Requests
// without a token continue anonymously and are identified by address; a
// presented but invalid token is rejected. A nil validator disables
// authentication entirely.
func Authenticate(validator *auth.JWTValidator, eh *apperrors.ErrorHandler, logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" || validator == nil {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.Debug("Invalid token",
					zap.Error(err),
					zap.String("path", r.URL.Path),
				)

				message := "Invalid token"
				switch {
				case errors.Is(err, auth.ErrExpiredToken):
					message = "Token has expired"
				case errors.Is(err, auth.ErrInvalidSignature):
					message = "Invalid token signature"
				}
				eh.Handle(w, r, apperrors.NewUnauthorizedError(message))
				return
			}

			ctx := auth.SetUserInContext(r.Context(), &auth.UserContext{
				UserID: claims.Subject,
				Email:  claims.Email,
				Roles:  claims.Roles,
			})

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractToken reads the token from the Authorization header or the
// auth_token cookie
func extractToken(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		scheme, token, found := strings.Cut(authHeader, " ")
		if found && strings.EqualFold(scheme, "bearer") {
			return strings.TrimSpace(token)
		}
		return strings.TrimSpace(authHeader)
	}

	if cookie, err := r.Cookie("auth_token"); err == nil {
		return cookie.Value
	}
	return ""
}

// RequireRole rejects anonymous callers with 401 and callers holding none of
// roles with 403
func RequireRole(eh *apperrors.ErrorHandler, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := auth.GetUserFromContext(r.Context())
			if !ok {
				eh.Handle(w, r, apperrors.NewUnauthorizedError("Authentication required"))
				return
			}

			for _, role := range roles {
				if user.HasRole(role) {
					next.ServeHTTP(w, r)
					return
				}
			}

			eh.Handle(w, r, apperrors.NewForbiddenError("Insufficient permissions"))
		})
	}
}
