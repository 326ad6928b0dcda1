package di

import (
	"context"
	"fmt"

	"forumsearch/application/cache"
	"forumsearch/application/commands"
	"forumsearch/application/commands/bus"
	commands_handlers "forumsearch/application/commands/handlers"
	"forumsearch/application/ports"
	"forumsearch/application/queries"
	querybus "forumsearch/application/queries/bus"
	queries_handlers "forumsearch/application/queries/handlers"
	"forumsearch/application/search"
	"forumsearch/application/stats"
	"forumsearch/infrastructure/config"
	"forumsearch/infrastructure/persistence/kvstore"
	"forumsearch/infrastructure/searchbackend"
	"forumsearch/interfaces/http/rest"
	"forumsearch/interfaces/http/rest/handlers"
	"forumsearch/pkg/auth"
	"forumsearch/pkg/observability"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ProvideLogger creates a new logger instance tagged with a per-process
// instance id
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.IsProduction() {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}

	return logger.With(
		zap.String("service", "forumsearch"),
		zap.String("instance_id", uuid.NewString()),
		zap.String("environment", cfg.Environment),
	), nil
}

// ProvideAWSConfig creates AWS configuration
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
	)
}

// ProvideStore builds the shared key-value store selected by configuration.
// Remote stores sit behind a circuit breaker; every store gets the
// deployment key prefix. The in-process store reports its entry count to
// the collector. The cleanup closes remote connections.
func ProvideStore(ctx context.Context, cfg *config.Config, collector *observability.Collector, logger *zap.Logger) (ports.Store, func(), error) {
	breakerCfg := func(name string) kvstore.BreakerConfig {
		b := kvstore.DefaultBreakerConfig(name)
		b.MaxRequests = cfg.Store.Breaker.MaxRequests
		b.OpenTimeout = cfg.Store.Breaker.OpenTimeout
		b.CallTimeout = cfg.Store.Breaker.CallTimeout
		b.MinRequests = cfg.Store.Breaker.MinRequests
		b.FailureRatio = cfg.Store.Breaker.FailureRatio
		return b
	}

	var (
		store   ports.Store
		cleanup = func() {}
	)

	switch cfg.Store.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
		cleanup = func() {
			if err := client.Close(); err != nil {
				logger.Warn("Failed to close redis client", zap.Error(err))
			}
		}
		store = kvstore.NewBreakerStore(kvstore.NewRedisStore(client), breakerCfg("redis"), logger)

	case "dynamodb":
		awsCfg, err := ProvideAWSConfig(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client := awsdynamodb.NewFromConfig(awsCfg)
		store = kvstore.NewBreakerStore(kvstore.NewDynamoDBStore(client, cfg.Store.DynamoDBTable), breakerCfg("dynamodb"), logger)

	case "memory":
		memory := kvstore.NewMemoryStore(cfg.Store.MemorySizeMB * 1024 * 1024)
		if err := collector.ObserveStoreEntries(memory.EntryCount); err != nil {
			return nil, nil, fmt.Errorf("failed to register store metrics: %w", err)
		}
		store = memory

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	logger.Info("Key-value store configured",
		zap.String("backend", cfg.Store.Backend),
		zap.String("key_prefix", cfg.Store.KeyPrefix),
	)

	if cfg.Store.KeyPrefix != "" {
		store = kvstore.NewPrefixedStore(store, cfg.Store.KeyPrefix)
	}
	return store, cleanup, nil
}

// ProvideCollector creates the Prometheus collector, or nil when metrics
// are disabled
func ProvideCollector(cfg *config.Config) *observability.Collector {
	if !cfg.EnableMetrics {
		return nil
	}
	return observability.NewCollector("forumsearch")
}

// ProvideWarnOnce creates the warn-once gate shared by store consumers
func ProvideWarnOnce(logger *zap.Logger) *observability.WarnOnce {
	return observability.NewWarnOnce(logger, 0)
}

// ProvideResultCache creates the result cache
func ProvideResultCache(
	store ports.Store,
	cfg *config.Config,
	collector *observability.Collector,
	warn *observability.WarnOnce,
	logger *zap.Logger,
) (*cache.ResultCache, error) {
	ttls, err := cfg.CacheTTLMap()
	if err != nil {
		return nil, err
	}
	return cache.NewResultCache(store, ttls, logger,
		cache.WithMetrics(collector),
		cache.WithWarnOnce(warn),
	)
}

// ProvideRateLimiter creates the shared rate limiter
func ProvideRateLimiter(
	store ports.Store,
	cfg *config.Config,
	collector *observability.Collector,
	warn *observability.WarnOnce,
	logger *zap.Logger,
) (*auth.RateLimiter, error) {
	policies, err := cfg.RateLimitPolicies()
	if err != nil {
		return nil, err
	}
	return auth.NewRateLimiter(store, policies, logger,
		auth.WithMetrics(collector),
		auth.WithWarnOnce(warn),
	)
}

// ProvideSearchStats creates the statistics recorder
func ProvideSearchStats(
	store ports.Store,
	resultCache *cache.ResultCache,
	warn *observability.WarnOnce,
	logger *zap.Logger,
) (*stats.SearchStats, error) {
	return stats.NewSearchStats(store, resultCache, resultCache.TTL(cache.NamespaceStats), logger,
		stats.WithWarnOnce(warn),
	)
}

// ProvideBackend creates the search sidecar client
func ProvideBackend(cfg *config.Config, logger *zap.Logger) (*searchbackend.Client, error) {
	return searchbackend.NewClient(searchbackend.Config{
		BaseURL: cfg.Backend.URL,
		Timeout: cfg.Backend.Timeout,
	}, logger)
}

// ProvideSearchService creates the search service. The sidecar also serves
// live post content for reconciliation.
func ProvideSearchService(
	backend *searchbackend.Client,
	resultCache *cache.ResultCache,
	limiter *auth.RateLimiter,
	searchStats *stats.SearchStats,
	cfg *config.Config,
	collector *observability.Collector,
	logger *zap.Logger,
) *search.Service {
	return search.NewService(backend, resultCache, limiter, searchStats, search.Config{
		ConfigVersion:   cfg.ModelConfigVersion(),
		MaxResults:      cfg.Model.MaxResults,
		DefaultLimit:    cfg.Search.DefaultLimit,
		SuggestionLimit: cfg.Search.SuggestionLimit,
	}, logger,
		search.WithContentSource(backend),
		search.WithMetrics(collector),
	)
}

// ProvideJWTValidator creates the token validator, or nil when no secret is
// configured, in which case every caller is anonymous
func ProvideJWTValidator(cfg *config.Config, logger *zap.Logger) (*auth.JWTValidator, error) {
	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set, authentication disabled and admin endpoints unreachable")
		return nil, nil
	}
	return auth.NewJWTValidator(auth.JWTConfig{
		SecretKey: cfg.JWTSecret,
		Issuer:    cfg.JWTIssuer,
		Audience:  cfg.JWTAudience,
		TTL:       cfg.JWTTTL,
	})
}

// ProvideQueryBus creates a query bus with registered handlers
func ProvideQueryBus(
	searchService *search.Service,
	searchStats *stats.SearchStats,
	resultCache *cache.ResultCache,
	limiter *auth.RateLimiter,
	collector *observability.Collector,
	logger *zap.Logger,
) (*querybus.QueryBus, error) {
	queryBus := querybus.NewQueryBus()

	metrics := querybus.NewMetricsMiddleware(collector)
	wrap := func(h querybus.QueryHandler) querybus.QueryHandler {
		return querybus.Chain(h, metrics.Wrap, querybus.LoggingMiddleware(logger))
	}

	registrations := []struct {
		query   querybus.Query
		handler querybus.QueryHandler
	}{
		{queries.SearchQuery{}, querybus.Typed(queries_handlers.NewSearchHandler(searchService, logger).Handle)},
		{queries.SuggestionsQuery{}, querybus.Typed(queries_handlers.NewSuggestionsHandler(searchService).Handle)},
		{queries.GetModelInfoQuery{}, querybus.Typed(queries_handlers.NewGetModelInfoHandler(searchService).Handle)},
		{queries.GetStatsQuery{}, querybus.Typed(queries_handlers.NewGetStatsHandler(searchStats, resultCache).Handle)},
		{queries.GetRateLimitQuery{}, querybus.Typed(queries_handlers.NewGetRateLimitHandler(limiter).Handle)},
	}
	for _, reg := range registrations {
		if err := queryBus.Register(reg.query, wrap(reg.handler)); err != nil {
			return nil, err
		}
	}

	return queryBus, nil
}

// ProvideCommandBus creates a command bus with registered handlers
func ProvideCommandBus(
	resultCache *cache.ResultCache,
	limiter *auth.RateLimiter,
	collector *observability.Collector,
	logger *zap.Logger,
) (*bus.CommandBus, error) {
	commandBus := bus.NewCommandBus()
	pipeline := bus.NewPipeline(
		bus.MetricsMiddleware(collector),
		bus.LoggingMiddleware(logger),
	)

	invalidate := commands_handlers.NewInvalidateCacheHandler(resultCache, logger)
	if err := commandBus.Register(commands.InvalidateCacheCommand{}, pipeline.Execute(bus.Typed(invalidate.Handle))); err != nil {
		return nil, err
	}

	reset := commands_handlers.NewResetRateLimitHandler(limiter, logger)
	if err := commandBus.Register(commands.ResetRateLimitCommand{}, pipeline.Execute(bus.Typed(reset.Handle))); err != nil {
		return nil, err
	}

	return commandBus, nil
}

// ProvideRouter creates the HTTP router
func ProvideRouter(
	cfg *config.Config,
	commandBus *bus.CommandBus,
	queryBus *querybus.QueryBus,
	limiter *auth.RateLimiter,
	validator *auth.JWTValidator,
	collector *observability.Collector,
	resultCache *cache.ResultCache,
	backend *searchbackend.Client,
	logger *zap.Logger,
) *rest.Router {
	readiness := map[string]handlers.Pinger{
		"store":          resultCache,
		"search_backend": backend,
	}

	return rest.NewRouter(commandBus, queryBus, limiter, validator, collector, readiness, rest.Options{
		TrustForwardedFor:  cfg.TrustForwardedFor,
		EnableCORS:         cfg.EnableCORS,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		Debug:              cfg.IsDevelopment(),
	}, logger)
}
