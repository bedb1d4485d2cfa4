// Command aimw-server wires the eleven middleware components into one
// running process: it loads configuration, dials the backing stores, and
// serves a Prometheus scrape endpoint over the assembled Pipeline.
package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"aimw.dev/aimw/internal/batcher"
	"aimw.dev/aimw/internal/cache"
	"aimw.dev/aimw/internal/config"
	"aimw.dev/aimw/internal/crossmodal"
	"aimw.dev/aimw/internal/database"
	"aimw.dev/aimw/internal/embedding"
	"aimw.dev/aimw/internal/events"
	"aimw.dev/aimw/internal/messaging"
	"aimw.dev/aimw/internal/observability"
	"aimw.dev/aimw/internal/optimizer"
	"aimw.dev/aimw/internal/pool"
	"aimw.dev/aimw/internal/registry"
	"aimw.dev/aimw/internal/router"
	"aimw.dev/aimw/internal/store"
	"aimw.dev/aimw/internal/vectordb"
	"aimw.dev/aimw/internal/vectorstore"
)

// Pipeline holds every assembled component (C1-C11) plus the ambient
// collaborators they share, the way the teacher's APIServer struct holds
// its services.
type Pipeline struct {
	log *logrus.Entry

	redisClient *redis.Client
	pool        *pool.Pool
	batcher     *batcher.Batcher
	registry    *registry.Registry
	prefetch    *cache.PrefetchCache
	optimizer   *optimizer.Optimizer
	vectorStore *vectorstore.Adapter
	crossModal  *crossmodal.Matcher
	semantic    *cache.SemanticCache
	provider    *cache.ProviderCache
	invalidator *cache.EventDrivenInvalidation
	monitor     *observability.Monitor
	publisher   messaging.Publisher
	router      *router.Router
}

// NewPipeline builds every component from cfg, failing fast if a required
// backing service cannot be dialed.
func NewPipeline(ctx context.Context, cfg *config.Config, log *logrus.Logger) *Pipeline {
	entry := log.WithField("component", "aimw-server")

	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	backingStore := store.NewRedisStore(redisClient)

	p := &Pipeline{log: entry, redisClient: redisClient}

	p.pool = pool.New(pool.Config{
		MinConnections:   cfg.Pool.MinConnections,
		MaxConnections:   cfg.Pool.MaxConnections,
		AcquireTimeout:   time.Duration(cfg.Pool.AcquireTimeoutMs) * time.Millisecond,
		IdleTimeout:      time.Duration(cfg.Pool.IdleTimeoutMs) * time.Millisecond,
		MaxRetries:       cfg.Pool.MaxRetries,
		MaintenanceEvery: 30 * time.Second,
	}, func(context.Context) (store.Store, error) {
		return backingStore, nil
	}, entry.WithField("sub", "pool"))

	p.registry = buildRegistry(ctx, cfg, entry)

	p.batcher = batcher.New(batcher.Config{
		MaxBatchSize:         cfg.Batcher.MaxBatchSize,
		MaxWaitTime:          time.Duration(cfg.Batcher.MaxWaitTimeMs) * time.Millisecond,
		MaxConcurrentBatches: cfg.Batcher.MaxConcurrentBatches,
		PriorityLevels:       cfg.Batcher.PriorityLevels,
	}, func(ctx context.Context, kind batcher.OpKind, items []batcher.Item) ([]batcher.ItemResult, error) {
		conn, err := p.pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		defer p.pool.Release(conn)

		results := make([]batcher.ItemResult, len(items))
		for i, item := range items {
			results[i] = execGroupedOp(ctx, conn.Store, kind, item)
		}
		return results, nil
	}, entry.WithField("sub", "batcher"))

	p.prefetch = cache.NewPrefetchCache(cache.PrefetchConfig{
		Enabled:                   cfg.Prefetch.Enabled,
		MaxCacheSizeBytes:         cfg.Prefetch.MaxCacheSizeBytes,
		PrefetchThreshold:         cfg.Prefetch.PrefetchThreshold,
		BackgroundRefreshInterval: cfg.Prefetch.BackgroundRefreshInterval,
		PopularityDecayFactor:     cfg.Prefetch.PopularityDecayFactor,
	}, backingStore, entry.WithField("sub", "prefetch"))

	index := buildVectorIndex(cfg, entry)

	p.optimizer = optimizer.New(optimizer.Config{
		EnableIndexHints:     cfg.Optimizer.EnableIndexHints,
		EnableQueryRewriting: cfg.Optimizer.EnableQueryRewriting,
		EnableResultCaching:  cfg.Optimizer.EnableResultCaching,
		MaxComplexity:        cfg.Optimizer.MaxComplexity,
		Timeout:              time.Duration(cfg.Optimizer.TimeoutMs) * time.Millisecond,
	}, index, entry.WithField("sub", "optimizer"))

	vstore, err := vectorstore.New(ctx, index, cfg.Redis.KeyPrefix, 256, entry.WithField("sub", "vectorstore"))
	if err != nil {
		entry.WithError(err).Fatal("build vector store adapter")
	}
	p.vectorStore = vstore
	p.crossModal = crossmodal.New(vstore)

	embedder := embedding.NewHashEmbedder(256)
	semanticCache, err := cache.NewSemanticCache(cache.SemanticCacheConfig{
		SimilarityThreshold: cfg.Semantic.SimilarityThreshold,
		MaxCacheSizeEntries: cfg.Semantic.MaxCacheSizeEntries,
		DefaultTTL:          cfg.Semantic.DefaultTTL,
		EnableEviction:      cfg.Semantic.EnableEviction,
		EvictionPolicy:      cfg.Semantic.EvictionPolicy,
		QualityThreshold:    cfg.Semantic.QualityThreshold,
	}, embedder, index, entry.WithField("sub", "semantic-cache"))
	if err != nil {
		entry.WithError(err).Fatal("build semantic cache")
	}
	p.semantic = semanticCache

	tiered := cache.NewTieredCache(backingStore, cache.DefaultTieredCacheConfig())
	p.provider = cache.NewProviderCache(tiered, cache.DefaultProviderCacheConfig())

	bus := events.NewBus()
	p.invalidator = cache.NewEventDrivenInvalidation(bus, tiered)
	p.invalidator.Start()

	p.monitor = observability.New()
	p.publisher = buildPublisher(cfg.Messaging, entry.WithField("sub", "messaging"))
	p.router = router.New(cfg.Router, p.registry, p.monitor, p.publisher, p.provider, bus, nil)

	return p
}

// Close releases every component that owns a background goroutine or
// network connection. Request analysis (C8) is a pure function and owns
// nothing to close.
func (p *Pipeline) Close() {
	p.invalidator.Stop()
	p.monitor.Close()
	p.semantic.Close()
	p.prefetch.Close()
	p.pool.Close()
	p.publisher.Close()
	p.redisClient.Close()
}

func main() {
	cfg := config.Load()

	log := logrus.New()
	if lvl, err := logrus.ParseLevel(cfg.Server.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	pipeline := NewPipeline(context.Background(), cfg, log)
	defer pipeline.Close()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(observability.NewCollector(pipeline.monitor, pipeline.registry))
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux}
	pipeline.log.WithField("addr", cfg.Server.MetricsAddr).Info("serving metrics")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		pipeline.log.WithError(err).Fatal("metrics server failed")
	}
}

func buildRegistry(ctx context.Context, cfg *config.Config, entry *logrus.Entry) *registry.Registry {
	if cfg.Postgres.DSN == "" {
		return registry.New(nil)
	}

	pgPool, err := database.Connect(ctx, cfg.Postgres, entry.WithField("sub", "postgres"))
	if err != nil {
		entry.WithError(err).Fatal("connect to postgres")
	}

	pgStore := registry.NewPostgresStore(pgPool)
	if err := pgStore.EnsureSchema(ctx); err != nil {
		entry.WithError(err).Fatal("ensure registry schema")
	}

	reg := registry.New(pgStore)
	if err := reg.LoadFrom(ctx, pgStore); err != nil {
		entry.WithError(err).Warn("load persisted endpoints")
	}
	return reg
}

func buildVectorIndex(cfg *config.Config, entry *logrus.Entry) vectordb.Index {
	if !cfg.Qdrant.Enabled {
		return vectordb.NewMemoryIndex()
	}
	qidx, err := vectordb.NewQdrantIndex(vectordb.QdrantConfig{
		Host:   cfg.Qdrant.Host,
		Port:   cfg.Qdrant.Port,
		APIKey: cfg.Qdrant.APIKey,
	})
	if err != nil {
		entry.WithError(err).Fatal("connect to qdrant")
	}
	return qidx
}

func buildPublisher(cfg config.MessagingConfig, entry *logrus.Entry) messaging.Publisher {
	switch cfg.Backend {
	case "kafka":
		return messaging.NewKafkaPublisher(cfg.Brokers, entry)
	case "rabbitmq":
		pub, err := messaging.NewAMQPPublisher(cfg.AMQPURL)
		if err != nil {
			entry.WithError(err).Warn("connect to rabbitmq, falling back to in-memory publisher")
			return messaging.NewInMemoryPublisher()
		}
		return pub
	case "inmemory":
		return messaging.NewInMemoryPublisher()
	default:
		return messaging.NopPublisher{}
	}
}

// execGroupedOp applies one batched item against s, dispatching on its
// kind. Args are positional: GET/HGET take a key (and field for HGET); SET/
// HSET additionally take a value and, for SET, a TTL in milliseconds.
func execGroupedOp(ctx context.Context, s store.Store, kind batcher.OpKind, item batcher.Item) batcher.ItemResult {
	switch kind {
	case batcher.OpGet:
		key, _ := item.Args[0].(string)
		v, err := s.Get(ctx, key)
		return batcher.ItemResult{ID: item.ID, Value: v, Err: err}
	case batcher.OpSet:
		key, _ := item.Args[0].(string)
		value, _ := item.Args[1].([]byte)
		var ttlMs int64
		if len(item.Args) > 2 {
			ttlMs, _ = item.Args[2].(int64)
		}
		err := s.Set(ctx, key, value, ttlMs)
		return batcher.ItemResult{ID: item.ID, Err: err}
	case batcher.OpHGet:
		hash, _ := item.Args[0].(string)
		field, _ := item.Args[1].(string)
		v, err := s.HGet(ctx, hash, field)
		return batcher.ItemResult{ID: item.ID, Value: v, Err: err}
	case batcher.OpHSet:
		hash, _ := item.Args[0].(string)
		field, _ := item.Args[1].(string)
		value, _ := item.Args[2].([]byte)
		err := s.HSet(ctx, hash, field, value)
		return batcher.ItemResult{ID: item.ID, Err: err}
	default:
		return batcher.ItemResult{ID: item.ID, Err: fmt.Errorf("unsupported batched op kind %q", kind)}
	}
}
