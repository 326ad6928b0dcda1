//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"forumsearch/infrastructure/config"

	"github.com/google/wire"
)

// StoreSet provides the shared key-value store and everything built on it
var StoreSet = wire.NewSet(
	ProvideStore,
	ProvideWarnOnce,
	ProvideResultCache,
	ProvideRateLimiter,
	ProvideSearchStats,
)

// ApplicationSet provides the search service and the buses
var ApplicationSet = wire.NewSet(
	ProvideBackend,
	ProvideSearchService,
	ProvideQueryBus,
	ProvideCommandBus,
)

// InterfaceSet provides the HTTP layer
var InterfaceSet = wire.NewSet(
	ProvideJWTValidator,
	ProvideRouter,
)

// SuperSet is the main provider set containing all providers
var SuperSet = wire.NewSet(
	ProvideLogger,
	ProvideCollector,
	StoreSet,
	ApplicationSet,
	InterfaceSet,
	wire.Struct(new(Container), "*"),
)

// InitializeContainer creates a fully wired container
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, func(), error) {
	wire.Build(SuperSet)
	return nil, nil, nil
}
