package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"forumsearch/application/cache"
	"forumsearch/pkg/auth"
	apperrors "forumsearch/pkg/errors"
	"forumsearch/pkg/utils"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	ServerAddress string `yaml:"server_address" validate:"required"`
	Environment   string `yaml:"environment" validate:"oneof=development test staging production"`

	// AWS configuration
	AWSRegion string `yaml:"aws_region"`

	// Lambda configuration
	IsLambda bool `yaml:"is_lambda"`

	// Logging
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`

	Store   StoreConfig   `yaml:"store"`
	Backend BackendConfig `yaml:"backend"`
	Model   ModelConfig   `yaml:"model"`
	Search  SearchConfig  `yaml:"search"`

	// CacheTTLs overrides per-namespace TTLs, keyed by namespace name
	CacheTTLs map[string]time.Duration `yaml:"cache_ttls"`
	// RateLimits overrides per-action policies, keyed by action name
	RateLimits map[string]RateLimitConfig `yaml:"rate_limits"`

	// TrustForwardedFor honors the first X-Forwarded-For entry when public
	TrustForwardedFor bool `yaml:"trust_forwarded_for"`

	// Authentication
	JWTSecret   string        `yaml:"jwt_secret"`
	JWTIssuer   string        `yaml:"jwt_issuer"`
	JWTAudience string        `yaml:"jwt_audience"`
	JWTTTL      time.Duration `yaml:"jwt_ttl"`

	// Feature flags
	EnableMetrics bool `yaml:"enable_metrics"`
	EnableTracing bool `yaml:"enable_tracing"`
	EnableCORS    bool `yaml:"enable_cors"`

	OTLPEndpoint       string   `yaml:"otlp_endpoint"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`

	// File is the YAML file the configuration was read from, if any
	File string `yaml:"-"`
}

// StoreConfig selects and configures the shared key-value store
type StoreConfig struct {
	Backend       string `yaml:"backend" validate:"oneof=memory redis dynamodb"`
	MemorySizeMB  int    `yaml:"memory_size_mb" validate:"gte=32"`
	RedisAddr     string `yaml:"redis_addr" validate:"required_if=Backend redis"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db" validate:"gte=0"`
	DynamoDBTable string `yaml:"dynamodb_table" validate:"required_if=Backend dynamodb"`
	KeyPrefix     string `yaml:"key_prefix"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the circuit breaker in front of remote stores
type BreakerConfig struct {
	MaxRequests  uint32        `yaml:"max_requests" validate:"gt=0"`
	OpenTimeout  time.Duration `yaml:"open_timeout" validate:"gt=0"`
	CallTimeout  time.Duration `yaml:"call_timeout" validate:"gt=0"`
	MinRequests  uint32        `yaml:"min_requests" validate:"gt=0"`
	FailureRatio float64       `yaml:"failure_ratio" validate:"gt=0,lte=1"`
}

// BackendConfig points at the semantic search sidecar
type BackendConfig struct {
	URL     string        `yaml:"url" validate:"required,url"`
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

// ModelConfig describes the active embedding model. Any change yields a
// new cache config version.
type ModelConfig struct {
	Path       string `yaml:"path" validate:"required"`
	Type       string `yaml:"type" validate:"required"`
	MaxResults int    `yaml:"max_results" validate:"gt=0,lte=1000"`
}

// SearchConfig holds request-level limits
type SearchConfig struct {
	DefaultLimit    int `yaml:"default_limit" validate:"gt=0"`
	SuggestionLimit int `yaml:"suggestion_limit" validate:"gt=0,lte=100"`
}

// RateLimitConfig is one action's quota
type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
	Block    time.Duration `yaml:"block"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		ServerAddress: ":8080",
		Environment:   "development",
		AWSRegion:     "us-west-2",
		LogLevel:      "info",
		Store: StoreConfig{
			Backend:       "memory",
			MemorySizeMB:  64,
			DynamoDBTable: "forumsearch",
			KeyPrefix:     "forumsearch:",
			Breaker: BreakerConfig{
				MaxRequests:  3,
				OpenTimeout:  30 * time.Second,
				CallTimeout:  500 * time.Millisecond,
				MinRequests:  5,
				FailureRatio: 0.6,
			},
		},
		Backend: BackendConfig{
			URL:     "http://localhost:9200",
			Timeout: 5 * time.Second,
		},
		Model: ModelConfig{
			Path:       "models/all-MiniLM-L6-v2",
			Type:       "sentence-transformers",
			MaxResults: 50,
		},
		Search: SearchConfig{
			DefaultLimit:    20,
			SuggestionLimit: 10,
		},
		JWTIssuer:          "forumsearch",
		JWTTTL:             time.Hour,
		EnableMetrics:      true,
		EnableCORS:         true,
		OTLPEndpoint:       "localhost:4317",
		CORSAllowedOrigins: []string{"*"},
	}
}

// LoadConfig builds the configuration from defaults, then the YAML file
// named by CONFIG_FILE, then environment variables, and validates it
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Load is an alias for LoadConfig
func Load() (*Config, error) {
	return LoadConfig()
}

func (c *Config) mergeFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return apperrors.NewValidationErrorf("read config file %s: %v", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return apperrors.NewValidationErrorf("parse config file %s: %v", path, err)
	}
	c.File = path
	return nil
}

// ReadPolicies re-reads the YAML file and the environment and returns the
// complete policy set, so an action removed from the file reverts to its
// built-in policy
func ReadPolicies(path string) (map[auth.Action]auth.Policy, error) {
	cfg := Default()
	if err := cfg.mergeFile(path); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	overrides, err := cfg.RateLimitPolicies()
	if err != nil {
		return nil, err
	}

	policies := auth.DefaultPolicies()
	for action, p := range overrides {
		policies[action] = p
	}
	return policies, nil
}

func (c *Config) applyEnv() error {
	env := &envReader{}

	c.ServerAddress = env.str("SERVER_ADDRESS", c.ServerAddress)
	c.Environment = env.str("ENVIRONMENT", c.Environment)
	c.AWSRegion = env.str("AWS_REGION", c.AWSRegion)
	c.IsLambda = env.boolean("IS_LAMBDA", c.IsLambda || os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "")
	c.LogLevel = strings.ToLower(env.str("LOG_LEVEL", c.LogLevel))

	c.Store.Backend = env.str("STORE_BACKEND", c.Store.Backend)
	c.Store.MemorySizeMB = env.integer("STORE_MEMORY_MB", c.Store.MemorySizeMB)
	c.Store.RedisAddr = env.str("REDIS_ADDR", c.Store.RedisAddr)
	c.Store.RedisPassword = env.str("REDIS_PASSWORD", c.Store.RedisPassword)
	c.Store.RedisDB = env.integer("REDIS_DB", c.Store.RedisDB)
	c.Store.DynamoDBTable = env.str("TABLE_NAME", env.str("DYNAMODB_TABLE", c.Store.DynamoDBTable))
	c.Store.KeyPrefix = env.str("KEY_PREFIX", c.Store.KeyPrefix)
	c.Store.Breaker.CallTimeout = env.duration("STORE_CALL_TIMEOUT", c.Store.Breaker.CallTimeout)
	c.Store.Breaker.OpenTimeout = env.duration("STORE_OPEN_TIMEOUT", c.Store.Breaker.OpenTimeout)

	c.Backend.URL = env.str("SEARCH_BACKEND_URL", c.Backend.URL)
	c.Backend.Timeout = env.duration("SEARCH_BACKEND_TIMEOUT", c.Backend.Timeout)

	c.Model.Path = env.str("MODEL_PATH", c.Model.Path)
	c.Model.Type = env.str("MODEL_TYPE", c.Model.Type)
	c.Model.MaxResults = env.integer("MAX_RESULTS", c.Model.MaxResults)

	c.Search.DefaultLimit = env.integer("DEFAULT_LIMIT", c.Search.DefaultLimit)
	c.Search.SuggestionLimit = env.integer("SUGGESTION_LIMIT", c.Search.SuggestionLimit)

	for _, ns := range []cache.Namespace{
		cache.NamespaceSearch,
		cache.NamespaceEmbedding,
		cache.NamespaceModel,
		cache.NamespaceSuggestions,
		cache.NamespaceStats,
	} {
		key := "CACHE_TTL_" + strings.ToUpper(string(ns))
		if _, ok := os.LookupEnv(key); !ok {
			continue
		}
		if c.CacheTTLs == nil {
			c.CacheTTLs = make(map[string]time.Duration)
		}
		c.CacheTTLs[string(ns)] = env.duration(key, 0)
	}

	for _, action := range []auth.Action{auth.ActionSearch, auth.ActionSuggestions, auth.ActionAdmin} {
		prefix := "RATE_LIMIT_" + strings.ToUpper(string(action)) + "_"
		rl, ok := c.RateLimits[string(action)]
		if !ok {
			def := auth.DefaultPolicies()[action]
			rl = RateLimitConfig{Requests: def.Requests, Window: def.Window, Block: def.Block}
		}
		changed := false
		if _, set := os.LookupEnv(prefix + "REQUESTS"); set {
			rl.Requests = env.integer(prefix+"REQUESTS", rl.Requests)
			changed = true
		}
		if _, set := os.LookupEnv(prefix + "WINDOW"); set {
			rl.Window = env.duration(prefix+"WINDOW", rl.Window)
			changed = true
		}
		if _, set := os.LookupEnv(prefix + "BLOCK"); set {
			rl.Block = env.duration(prefix+"BLOCK", rl.Block)
			changed = true
		}
		if changed {
			if c.RateLimits == nil {
				c.RateLimits = make(map[string]RateLimitConfig)
			}
			c.RateLimits[string(action)] = rl
		}
	}

	c.TrustForwardedFor = env.boolean("TRUST_FORWARDED_FOR", c.TrustForwardedFor)

	c.JWTSecret = env.str("JWT_SECRET", c.JWTSecret)
	c.JWTIssuer = env.str("JWT_ISSUER", c.JWTIssuer)
	c.JWTAudience = env.str("JWT_AUDIENCE", c.JWTAudience)
	c.JWTTTL = env.duration("JWT_TTL", c.JWTTTL)

	c.EnableMetrics = env.boolean("ENABLE_METRICS", c.EnableMetrics)
	c.EnableTracing = env.boolean("ENABLE_TRACING", c.EnableTracing)
	c.EnableCORS = env.boolean("ENABLE_CORS", c.EnableCORS)
	c.OTLPEndpoint = env.str("OTEL_EXPORTER_OTLP_ENDPOINT", c.OTLPEndpoint)
	if origins := env.str("CORS_ALLOWED_ORIGINS", ""); origins != "" {
		c.CORSAllowedOrigins = splitList(origins)
	}

	return env.err()
}

// Validate checks struct tags, cache TTLs and rate-limit policies
func (c *Config) Validate() error {
	if err := utils.ValidateStruct(c); err != nil {
		return err
	}

	if _, err := c.CacheTTLMap(); err != nil {
		return err
	}
	if _, err := c.RateLimitPolicies(); err != nil {
		return err
	}

	if c.Search.DefaultLimit > c.Model.MaxResults {
		return apperrors.NewValidationErrorf("default_limit %d exceeds max_results %d", c.Search.DefaultLimit, c.Model.MaxResults)
	}

	if c.Environment == "production" {
		if c.JWTSecret == "" {
			return apperrors.NewValidationError("JWT_SECRET is required in production")
		}
		if c.Store.Backend == "memory" {
			return apperrors.NewValidationError("memory store is not shared across instances; use redis or dynamodb in production")
		}
	}

	return nil
}

// CacheTTLMap converts the TTL overrides into cache namespaces
func (c *Config) CacheTTLMap() (map[cache.Namespace]time.Duration, error) {
	out := make(map[cache.Namespace]time.Duration, len(c.CacheTTLs))
	for name, ttl := range c.CacheTTLs {
		ns, err := cache.ParseNamespace(name)
		if err != nil {
			return nil, apperrors.NewValidationError(err.Error())
		}
		if ttl <= 0 {
			return nil, apperrors.NewValidationErrorf("cache TTL for %q must be positive, got %s", name, ttl)
		}
		out[ns] = ttl
	}
	return out, nil
}

// RateLimitPolicies converts the rate-limit overrides into limiter policies
func (c *Config) RateLimitPolicies() (map[auth.Action]auth.Policy, error) {
	defaults := auth.DefaultPolicies()
	out := make(map[auth.Action]auth.Policy, len(c.RateLimits))
	for name, rl := range c.RateLimits {
		action := auth.Action(name)
		if _, ok := defaults[action]; !ok {
			return nil, apperrors.NewValidationErrorf("unknown rate limit action %q", name)
		}
		p := auth.Policy{Requests: rl.Requests, Window: rl.Window, Block: rl.Block}
		if err := p.Validate(); err != nil {
			return nil, apperrors.NewValidationErrorf("rate limit %q: %v", name, err)
		}
		out[action] = p
	}
	return out, nil
}

// ModelConfigVersion returns the cache config version of the active model
func (c *Config) ModelConfigVersion() string {
	return cache.ConfigVersion(cache.ModelConfig{
		Path:       c.Model.Path,
		Type:       c.Model.Type,
		MaxResults: c.Model.MaxResults,
	})
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// envReader reads typed environment variables and remembers malformed ones
type envReader struct {
	errs []string
}

func (r *envReader) str(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (r *envReader) boolean(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	switch strings.ToLower(value) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	r.errs = append(r.errs, fmt.Sprintf("%s: %q is not a boolean", key, value))
	return defaultValue
}

func (r *envReader) integer(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Sprintf("%s: %q is not an integer", key, value))
		return defaultValue
	}
	return n
}

// duration accepts Go durations ("90s") or plain seconds ("90")
func (r *envReader) duration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Sprintf("%s: %q is not a duration", key, value))
		return defaultValue
	}
	return d
}

func (r *envReader) err() error {
	if len(r.errs) == 0 {
		return nil
	}
	return apperrors.NewValidationError("invalid environment: " + strings.Join(r.errs, "; "))
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
