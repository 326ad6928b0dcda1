package rest

import (
	"net/http"

	"forumsearch/application/commands/bus"
	querybus "forumsearch/application/queries/bus"
	"forumsearch/interfaces/http/rest/handlers"
	"forumsearch/interfaces/http/rest/middleware"
	"forumsearch/pkg/auth"
	apperrors "forumsearch/pkg/errors"
	"forumsearch/pkg/observability"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// Options holds router settings taken from configuration
type Options struct {
	TrustForwardedFor  bool
	EnableCORS         bool
	CORSAllowedOrigins []string
	Debug              bool
}

// Router creates and configures the HTTP router
type Router struct {
	commandBus   *bus.CommandBus
	queryBus     *querybus.QueryBus
	limiter      *auth.RateLimiter
	validator    *auth.JWTValidator
	collector    *observability.Collector
	readiness    map[string]handlers.Pinger
	errorHandler *apperrors.ErrorHandler
	opts         Options
	logger       *zap.Logger
}

// NewRouter creates a new router instance. validator and collector may be
// nil to disable authentication and metrics.
func NewRouter(
	commandBus *bus.CommandBus,
	queryBus *querybus.QueryBus,
	limiter *auth.RateLimiter,
	validator *auth.JWTValidator,
	collector *observability.Collector,
	readiness map[string]handlers.Pinger,
	opts Options,
	logger *zap.Logger,
) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		commandBus:   commandBus,
		queryBus:     queryBus,
		limiter:      limiter,
		validator:    validator,
		collector:    collector,
		readiness:    readiness,
		errorHandler: apperrors.NewErrorHandler(logger, opts.Debug),
		opts:         opts,
		logger:       logger,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() *chi.Mux {
	router := chi.NewRouter()

	// Global middleware
	// Forwarded headers are read only by the identity resolver
	router.Use(chimiddleware.RequestID)
	router.Use(rt.errorHandler.Middleware)
	router.Use(middleware.Logger(rt.logger))
	if rt.collector != nil {
		router.Use(middleware.Metrics(rt.collector))
	}

	if rt.opts.EnableCORS {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   rt.opts.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID", "X-Cache", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		rt.errorHandler.HandleStatus(w, r, http.StatusNotFound, "Route not found")
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		rt.errorHandler.HandleStatus(w, r, http.StatusMethodNotAllowed, "Method not allowed")
	})

	// Health check
	healthHandler := handlers.NewHealthHandler(rt.readiness, rt.logger)
	router.Get("/health", healthHandler.Health)
	router.Get("/ready", healthHandler.Ready)
	if rt.collector != nil {
		router.Method(http.MethodGet, "/metrics", rt.collector.Handler())
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Authenticate(rt.validator, rt.errorHandler, rt.logger))
		r.Use(middleware.Identity(auth.NewIdentityResolver(rt.opts.TrustForwardedFor)))

		searchHandler := handlers.NewSearchHandler(rt.queryBus, rt.limiter, rt.errorHandler, rt.logger)
		r.Get("/search", searchHandler.Search)
		r.Get("/suggestions", searchHandler.Suggestions)

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(rt.errorHandler, "admin"))
			r.Use(middleware.RateLimit(rt.limiter, auth.ActionAdmin, rt.errorHandler))

			adminHandler := handlers.NewAdminHandler(rt.commandBus, rt.queryBus, rt.errorHandler, rt.logger)
			r.Get("/stats", adminHandler.Stats)
			r.Get("/model", adminHandler.ModelInfo)
			r.Post("/cache/invalidate", adminHandler.InvalidateCache)
			r.Get("/ratelimit/{action}/{identifier}", adminHandler.RateLimitStatus)
			r.Delete("/ratelimit/{action}/{identifier}", adminHandler.ResetRateLimit)
		})
	})

	return router
}
