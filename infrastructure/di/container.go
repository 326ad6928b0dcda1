package di

import (
	"forumsearch/application/cache"
	"forumsearch/application/commands/bus"
	"forumsearch/application/ports"
	querybus "forumsearch/application/queries/bus"
	"forumsearch/application/search"
	"forumsearch/application/stats"
	"forumsearch/infrastructure/config"
	"forumsearch/infrastructure/searchbackend"
	"forumsearch/interfaces/http/rest"
	"forumsearch/pkg/auth"
	"forumsearch/pkg/observability"

	"go.uber.org/zap"
)

// Container holds all application dependencies
type Container struct {
	Config        *config.Config
	Logger        *zap.Logger
	Store         ports.Store
	Collector     *observability.Collector
	ResultCache   *cache.ResultCache
	RateLimiter   *auth.RateLimiter
	Stats         *stats.SearchStats
	Backend       *searchbackend.Client
	SearchService *search.Service
	Validator     *auth.JWTValidator
	CommandBus    *bus.CommandBus
	QueryBus      *querybus.QueryBus
	Router        *rest.Router
}
