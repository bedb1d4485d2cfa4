// Package config loads the typed configuration tree for every component
// of the middleware, one sub-struct per concern, following the
// environment-variable-with-defaults convention used throughout this
// codebase's ancestry: Default builds the whole tree from built-in values
// so tests never depend on the process environment, and Load overrides
// selected values through getEnv-style accessors.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration tree, one section per component plus
// the ambient Redis/Postgres/Qdrant/messaging/server sections.
type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Postgres  PostgresConfig
	Qdrant    QdrantConfig
	Messaging MessagingConfig
	Pool      PoolConfig
	Batcher   BatcherConfig
	Prefetch  PrefetchConfig
	Optimizer OptimizerConfig
	Semantic  SemanticCacheConfig
	Router    RouterConfig
	Monitor   MonitorConfig
}

// ServerConfig holds process-level ambient settings.
type ServerConfig struct {
	LogLevel    string
	MetricsAddr string
}

// RedisConfig configures the reference Store implementation.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	KeyPrefix    string
}

// PostgresConfig configures the Model Registry's durable mirror.
type PostgresConfig struct {
	DSN      string
	MaxConns int
	MinConns int
}

// QdrantConfig configures the optional Qdrant-backed vector index.
type QdrantConfig struct {
	Enabled bool
	Host    string
	Port    int
	APIKey  string
	Timeout time.Duration
}

// MessagingConfig configures the optional routing/recommendation publisher.
type MessagingConfig struct {
	Backend       string // "kafka", "rabbitmq", "inmemory", "" (disabled)
	Brokers       []string
	AMQPURL       string
	Topic         string
}

// PoolConfig is C1's configuration surface.
type PoolConfig struct {
	MinConnections   int
	MaxConnections   int
	AcquireTimeoutMs int
	IdleTimeoutMs    int
	MaxRetries       int
}

// BatcherConfig is C2's configuration surface.
type BatcherConfig struct {
	MaxBatchSize         int
	MaxWaitTimeMs        int
	MaxConcurrentBatches int
	PriorityLevels       int
}

// PrefetchConfig is C3's configuration surface.
type PrefetchConfig struct {
	Enabled                   bool
	MaxCacheSizeBytes         int64
	PrefetchThreshold         float64
	BackgroundRefreshInterval time.Duration
	PopularityDecayFactor     float64
}

// OptimizerConfig is C4's configuration surface.
type OptimizerConfig struct {
	EnableIndexHints     bool
	EnableQueryRewriting bool
	EnableResultCaching  bool
	MaxComplexity        float64
	TimeoutMs            int
}

// SemanticCacheConfig is C6's configuration surface.
type SemanticCacheConfig struct {
	SimilarityThreshold float64
	MaxCacheSizeEntries int
	DefaultTTL          time.Duration
	EnableEviction      bool
	EvictionPolicy      string // "lru", "lfu", "semantic-relevance", "hybrid"
	CompressionEnabled  bool
	QualityThreshold    float64
	CacheByModel         bool
	WarmupQueries       []string
}

// RouterConfig is C10's configuration surface.
type RouterConfig struct {
	Strategy             string // "performance", "cost", "quality", "balanced"
	EnableLoadBalancing  bool
	EnableFailover       bool
	MaxRetries           int
	RetryDelay           time.Duration
	Weights              RouterWeights
	CostOptimization     bool
	LatencyOptimization  bool
	QualityOptimization  bool
}

// RouterWeights are the default scoring weights; strategy presets override them.
type RouterWeights struct {
	Performance float64
	Cost        float64
	Quality     float64
	Availability float64
}

// MonitorConfig is C9's configuration surface.
type MonitorConfig struct {
	FlushInterval   time.Duration
	FlushBatchSize  int
	RetentionWindow time.Duration
}

// Default returns a Config populated entirely from built-in defaults,
// identical to what Load returns in an environment with no overrides set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			LogLevel:    "info",
			MetricsAddr: ":9090",
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     10,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			KeyPrefix:    "aimw",
		},
		Postgres: PostgresConfig{
			MaxConns: 10,
			MinConns: 2,
		},
		Qdrant: QdrantConfig{
			Enabled: false,
			Host:    "localhost",
			Port:    6334,
			Timeout: 10 * time.Second,
		},
		Messaging: MessagingConfig{
			Backend: "",
			Topic:   "aimw.routing.events",
		},
		Pool: PoolConfig{
			MinConnections:   2,
			MaxConnections:   20,
			AcquireTimeoutMs: 2000,
			IdleTimeoutMs:    60000,
			MaxRetries:       2,
		},
		Batcher: BatcherConfig{
			MaxBatchSize:         50,
			MaxWaitTimeMs:        50,
			MaxConcurrentBatches: 4,
			PriorityLevels:       3,
		},
		Prefetch: PrefetchConfig{
			Enabled:                   true,
			MaxCacheSizeBytes:         64 * 1024 * 1024,
			PrefetchThreshold:         0.6,
			BackgroundRefreshInterval: 30 * time.Second,
			PopularityDecayFactor:     0.95,
		},
		Optimizer: OptimizerConfig{
			EnableIndexHints:     true,
			EnableQueryRewriting: true,
			EnableResultCaching:  true,
			MaxComplexity:        20,
			TimeoutMs:            5000,
		},
		Semantic: SemanticCacheConfig{
			SimilarityThreshold: 0.85,
			MaxCacheSizeEntries: 10000,
			DefaultTTL:          30 * time.Minute,
			EnableEviction:      true,
			EvictionPolicy:      "hybrid",
			CompressionEnabled:  true,
			QualityThreshold:    0.5,
			CacheByModel:        false,
		},
		Router: RouterConfig{
			Strategy:            "balanced",
			EnableLoadBalancing: true,
			EnableFailover:      true,
			MaxRetries:          3,
			RetryDelay:          200 * time.Millisecond,
			Weights: RouterWeights{
				Performance:  0.4,
				Cost:         0.2,
				Quality:      0.3,
				Availability: 0.1,
			},
			LatencyOptimization: true,
			QualityOptimization: true,
		},
		Monitor: MonitorConfig{
			FlushInterval:   5 * time.Second,
			FlushBatchSize:  100,
			RetentionWindow: 24 * time.Hour,
		},
	}
}

// Load builds a Config from the process environment, falling back to
// Default's values for anything unset.
func Load() *Config {
	cfg := Default()

	cfg.Server.LogLevel = getEnv("AIMW_LOG_LEVEL", cfg.Server.LogLevel)
	cfg.Server.MetricsAddr = getEnv("AIMW_METRICS_ADDR", cfg.Server.MetricsAddr)

	cfg.Redis.Addr = getEnv("AIMW_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("AIMW_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getIntEnv("AIMW_REDIS_DB", cfg.Redis.DB)
	cfg.Redis.PoolSize = getIntEnv("AIMW_REDIS_POOL_SIZE", cfg.Redis.PoolSize)
	cfg.Redis.KeyPrefix = getEnv("AIMW_REDIS_KEY_PREFIX", cfg.Redis.KeyPrefix)

	cfg.Postgres.DSN = getEnv("AIMW_POSTGRES_DSN", cfg.Postgres.DSN)
	cfg.Postgres.MaxConns = getIntEnv("AIMW_POSTGRES_MAX_CONNS", cfg.Postgres.MaxConns)
	cfg.Postgres.MinConns = getIntEnv("AIMW_POSTGRES_MIN_CONNS", cfg.Postgres.MinConns)

	cfg.Qdrant.Enabled = getBoolEnv("AIMW_QDRANT_ENABLED", cfg.Qdrant.Enabled)
	cfg.Qdrant.Host = getEnv("AIMW_QDRANT_HOST", cfg.Qdrant.Host)
	cfg.Qdrant.Port = getIntEnv("AIMW_QDRANT_PORT", cfg.Qdrant.Port)
	cfg.Qdrant.APIKey = getEnv("AIMW_QDRANT_API_KEY", cfg.Qdrant.APIKey)

	cfg.Messaging.Backend = getEnv("AIMW_MESSAGING_BACKEND", cfg.Messaging.Backend)
	cfg.Messaging.Brokers = getEnvSlice("AIMW_KAFKA_BROKERS", cfg.Messaging.Brokers)
	cfg.Messaging.AMQPURL = getEnv("AIMW_AMQP_URL", cfg.Messaging.AMQPURL)
	cfg.Messaging.Topic = getEnv("AIMW_MESSAGING_TOPIC", cfg.Messaging.Topic)

	cfg.Pool.MinConnections = getIntEnv("AIMW_POOL_MIN", cfg.Pool.MinConnections)
	cfg.Pool.MaxConnections = getIntEnv("AIMW_POOL_MAX", cfg.Pool.MaxConnections)
	cfg.Pool.AcquireTimeoutMs = getIntEnv("AIMW_POOL_ACQUIRE_TIMEOUT_MS", cfg.Pool.AcquireTimeoutMs)
	cfg.Pool.IdleTimeoutMs = getIntEnv("AIMW_POOL_IDLE_TIMEOUT_MS", cfg.Pool.IdleTimeoutMs)

	cfg.Batcher.MaxBatchSize = getIntEnv("AIMW_BATCH_MAX_SIZE", cfg.Batcher.MaxBatchSize)
	cfg.Batcher.MaxWaitTimeMs = getIntEnv("AIMW_BATCH_MAX_WAIT_MS", cfg.Batcher.MaxWaitTimeMs)
	cfg.Batcher.MaxConcurrentBatches = getIntEnv("AIMW_BATCH_MAX_CONCURRENT", cfg.Batcher.MaxConcurrentBatches)

	cfg.Semantic.SimilarityThreshold = getFloatEnv("AIMW_SEMANTIC_SIMILARITY_THRESHOLD", cfg.Semantic.SimilarityThreshold)
	cfg.Semantic.QualityThreshold = getFloatEnv("AIMW_SEMANTIC_QUALITY_THRESHOLD", cfg.Semantic.QualityThreshold)

	cfg.Router.Strategy = getEnv("AIMW_ROUTER_STRATEGY", cfg.Router.Strategy)
	cfg.Router.MaxRetries = getIntEnv("AIMW_ROUTER_MAX_RETRIES", cfg.Router.MaxRetries)

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
