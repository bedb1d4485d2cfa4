// Package optimizer implements the query optimizer (C4): it plans vector
// search calls and caches their results, generalizing the teacher's
// internal/database/query_optimizer.go (a Postgres QueryCache with
// TTL+capacity eviction and prepared-statement/latency metrics) from SQL
// views onto vector-search plans.
package optimizer

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"aimw.dev/aimw/internal/aimwerr"
	"aimw.dev/aimw/internal/vectordb"
)

// ExecutionStrategy names how a plan should be carried out.
type ExecutionStrategy string

const (
	StrategyParallel   ExecutionStrategy = "parallel"
	StrategySequential ExecutionStrategy = "sequential"
	StrategyHybrid     ExecutionStrategy = "hybrid"
)

// CacheStrategy names how a plan's result interacts with the plan cache.
type CacheStrategy string

const (
	CacheNone    CacheStrategy = "none"
	CachePartial CacheStrategy = "partial"
	CacheFull    CacheStrategy = "full"
)

// Query is a vector search request before optimization.
type Query struct {
	Collection string
	Vector     []float32
	Limit      int
	Ef         int // caller-supplied search-list size; 0 means unset
	Filter     map[string]interface{}
}

// Plan is the result of OptimizeVectorSearch.
type Plan struct {
	OriginalQuery     Query
	OptimizedQuery    Query
	EstimatedCost     float64
	ExecutionStrategy ExecutionStrategy
	IndexHints        []string
	CacheStrategy     CacheStrategy
	fingerprint       string
}

// Result is the parsed, backend-agnostic shape ExecuteOptimizedQuery returns.
type Result struct {
	Total   int
	Results []ResultItem
}

// ResultItem is one scored match.
type ResultItem struct {
	ID     string
	Score  float64
	Fields map[string]interface{}
}

// Config is C4's configuration surface.
type Config struct {
	EnableIndexHints     bool
	EnableQueryRewriting bool
	EnableResultCaching  bool
	MaxComplexity        float64
	Timeout              time.Duration
}

// DefaultConfig returns the optimizer's standalone defaults. Its
// MaxComplexity (50) is higher than the module-wide config default (20).
func DefaultConfig() Config {
	return Config{
		EnableIndexHints:     true,
		EnableQueryRewriting: true,
		EnableResultCaching:  true,
		MaxComplexity:        50,
		Timeout:              5 * time.Second,
	}
}

type planCacheEntry struct {
	result    Result
	expiresAt time.Time
}

// Metrics tracks optimizer performance, mirroring the teacher's QueryMetrics.
type Metrics struct {
	TotalQueries   int64
	CacheHits      int64
	CacheMisses    int64
	TotalLatencyUs int64
	SlowQueries    int64
	Rejected       int64
}

// Optimizer plans and executes vector-search queries against an Index,
// caching results by a normalized query fingerprint.
type Optimizer struct {
	cfg   Config
	index vectordb.Index
	log   *logrus.Entry

	mu         sync.RWMutex
	planCache  map[string]*planCacheEntry
	metrics    Metrics
}

// New builds an Optimizer and starts its background cache-cleanup loop.
func New(cfg Config, index vectordb.Index, log *logrus.Entry) *Optimizer {
	o := &Optimizer{
		cfg:       cfg,
		index:     index,
		log:       log.WithField("component", "query_optimizer"),
		planCache: make(map[string]*planCacheEntry),
	}
	go o.cleanupLoop()
	return o
}

// cost implements the module's cost model: 1 + vectorDim/100 + ln(limit)/10.
func cost(vectorDim, limit int) float64 {
	if limit <= 0 {
		limit = 1
	}
	return 1 + float64(vectorDim)/100 + math.Log(float64(limit))/10
}

// OptimizeVectorSearch rewrites q per the configured rules and returns a Plan.
func (o *Optimizer) OptimizeVectorSearch(q Query) (*Plan, error) {
	optimized := q
	estimatedCost := cost(len(q.Vector), q.Limit)

	if o.cfg.EnableQueryRewriting {
		minEf := q.Limit * 2
		if minEf < 100 {
			minEf = 100
		}
		if q.Ef > 0 && q.Ef < minEf {
			minEf = q.Ef
		}
		if q.Ef > 0 && minEf > q.Ef {
			minEf = q.Ef
		}
		optimized.Ef = minEf
	}

	if estimatedCost > o.cfg.MaxComplexity {
		atomic.AddInt64(&o.metrics.Rejected, 1)
		return nil, aimwerr.Newf(aimwerr.ComplexityExceeded, "estimated cost %.2f exceeds max complexity %.2f", estimatedCost, o.cfg.MaxComplexity)
	}

	strategy := StrategySequential
	switch {
	case q.Limit > 50:
		strategy = StrategyParallel
	case len(q.Filter) > 0:
		strategy = StrategyHybrid
	}

	cacheStrategy := CacheNone
	if o.cfg.EnableResultCaching {
		if estimatedCost > 10 {
			cacheStrategy = CacheFull
		} else {
			cacheStrategy = CachePartial
		}
	}

	var hints []string
	if o.cfg.EnableIndexHints {
		hints = indexHints(q)
	}

	plan := &Plan{
		OriginalQuery:     q,
		OptimizedQuery:    optimized,
		EstimatedCost:     estimatedCost,
		ExecutionStrategy: strategy,
		IndexHints:        hints,
		CacheStrategy:     cacheStrategy,
		fingerprint:       fingerprint(q),
	}
	return plan, nil
}

func indexHints(q Query) []string {
	var hints []string
	hints = append(hints, fmt.Sprintf("collection:%s", q.Collection))
	if len(q.Filter) > 0 {
		keys := make([]string, 0, len(q.Filter))
		for k := range q.Filter {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		hints = append(hints, fmt.Sprintf("filter-fields:%s", strings.Join(keys, ",")))
	}
	return hints
}

// fingerprint normalizes a query into a stable plan-cache key.
func fingerprint(q Query) string {
	keys := make([]string, 0, len(q.Filter))
	for k := range q.Filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(q.Collection)
	fmt.Fprintf(&b, ":limit=%d", q.Limit)
	for _, k := range keys {
		fmt.Fprintf(&b, ":%s=%v", k, q.Filter[k])
	}
	return b.String()
}

// ExecuteOptimizedQuery runs plan against the Index, honoring its cache
// strategy.
func (o *Optimizer) ExecuteOptimizedQuery(ctx context.Context, plan *Plan) (Result, error) {
	start := time.Now()
	defer func() {
		latencyUs := time.Since(start).Microseconds()
		atomic.AddInt64(&o.metrics.TotalLatencyUs, latencyUs)
		atomic.AddInt64(&o.metrics.TotalQueries, 1)
		if latencyUs > 100000 {
			atomic.AddInt64(&o.metrics.SlowQueries, 1)
		}
	}()

	if plan.CacheStrategy != CacheNone {
		if r, ok := o.cacheGet(plan.fingerprint); ok {
			atomic.AddInt64(&o.metrics.CacheHits, 1)
			return r, nil
		}
		atomic.AddInt64(&o.metrics.CacheMisses, 1)
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	q := plan.OptimizedQuery
	opts := vectordb.SearchOptions{Limit: q.Limit, WithPayload: true, Filter: q.Filter}
	scored, err := o.index.Search(ctx, q.Collection, q.Vector, opts)
	if err != nil {
		return Result{}, aimwerr.Wrap(aimwerr.StoreError, err, "execute optimized query")
	}

	items := make([]ResultItem, len(scored))
	for i, s := range scored {
		items[i] = ResultItem{ID: s.ID, Score: s.Score, Fields: s.Payload}
	}
	result := Result{Total: len(items), Results: items}

	if plan.CacheStrategy == CacheFull || plan.CacheStrategy == CachePartial {
		ttl := 5 * time.Minute
		if plan.EstimatedCost > 10 {
			ttl = 30 * time.Minute
		}
		o.cacheSet(plan.fingerprint, result, ttl)
	}

	return result, nil
}

func (o *Optimizer) cacheGet(key string) (Result, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	e, ok := o.planCache[key]
	if !ok || time.Now().After(e.expiresAt) {
		return Result{}, false
	}
	return e.result, true
}

func (o *Optimizer) cacheSet(key string, r Result, ttl time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.planCache[key] = &planCacheEntry{result: r, expiresAt: time.Now().Add(ttl)}
}

// InvalidateCache clears the entire plan cache.
func (o *Optimizer) InvalidateCache() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.planCache = make(map[string]*planCacheEntry)
}

// InvalidatePrefix clears plan-cache entries whose fingerprint starts with prefix.
func (o *Optimizer) InvalidatePrefix(prefix string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for k := range o.planCache {
		if strings.HasPrefix(k, prefix) {
			delete(o.planCache, k)
		}
	}
}

func (o *Optimizer) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		o.mu.Lock()
		now := time.Now()
		for k, e := range o.planCache {
			if now.After(e.expiresAt) {
				delete(o.planCache, k)
			}
		}
		o.mu.Unlock()
	}
}

// Metrics returns a snapshot of the optimizer's counters.
func (o *Optimizer) Metrics() Metrics {
	return Metrics{
		TotalQueries:   atomic.LoadInt64(&o.metrics.TotalQueries),
		CacheHits:      atomic.LoadInt64(&o.metrics.CacheHits),
		CacheMisses:    atomic.LoadInt64(&o.metrics.CacheMisses),
		TotalLatencyUs: atomic.LoadInt64(&o.metrics.TotalLatencyUs),
		SlowQueries:    atomic.LoadInt64(&o.metrics.SlowQueries),
		Rejected:       atomic.LoadInt64(&o.metrics.Rejected),
	}
}

// CacheHitRate returns the plan-cache hit rate as a percentage.
func (o *Optimizer) CacheHitRate() float64 {
	hits := atomic.LoadInt64(&o.metrics.CacheHits)
	misses := atomic.LoadInt64(&o.metrics.CacheMisses)
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}
