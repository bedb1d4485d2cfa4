package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"aimw.dev/aimw/internal/aimwerr"
	"aimw.dev/aimw/internal/embedding"
	"aimw.dev/aimw/internal/models"
	"aimw.dev/aimw/internal/vectordb"
)

// SemanticCacheConfig is C6's configuration surface.
type SemanticCacheConfig struct {
	SimilarityThreshold float64
	MaxCacheSizeEntries int
	DefaultTTL          time.Duration
	EnableEviction      bool
	EvictionPolicy      string // "lru", "lfu", "semantic-relevance", "hybrid"
	CompressionEnabled  bool
	QualityThreshold    float64
	CacheByModel        bool
}

// DefaultSemanticCacheConfig mirrors the module-wide spec defaults.
func DefaultSemanticCacheConfig() SemanticCacheConfig {
	return SemanticCacheConfig{
		SimilarityThreshold: 0.85,
		MaxCacheSizeEntries: 10000,
		DefaultTTL:          30 * time.Minute,
		EnableEviction:      true,
		EvictionPolicy:      "hybrid",
		CompressionEnabled:  true,
		QualityThreshold:    0.5,
	}
}

// CacheEntry is one semantic-cache record.
type CacheEntry struct {
	ID              string
	Query           string
	NormalizedQuery string
	Response        []byte
	Compressed      bool
	Metadata        map[string]interface{}
	Quality         float64
	ContextTags     []string
	Model           string
	CreatedAt       time.Time
	LastAccess      time.Time
	AccessCount     int64
	TTL             time.Duration
}

func (e *CacheEntry) expired() bool {
	if e.TTL <= 0 {
		return false
	}
	return time.Since(e.CreatedAt) > e.TTL
}

// Hit is the result of a successful semantic Get.
type Hit struct {
	Entry        CacheEntry
	Similarity   float64
	IsExact      bool
	TimeSavedMs  int64
	CostSavedUSD float64
}

// OptimizeResult summarizes one Optimize() pass.
type OptimizeResult struct {
	Evicted        int
	BytesReclaimed int64
	DurationMs     int64
}

const semanticCollection = "semantic_cache"
const compressionThresholdBytes = 1024

// SemanticCache is an embedding-keyed response cache with similarity
// lookup, TTL, and pluggable eviction, completing the intent the teacher's
// provider_cache.go declared (EnableSemanticCache/SimilarityThreshold
// fields) but never wired to an actual embedding lookup.
type SemanticCache struct {
	cfg      SemanticCacheConfig
	embedder embedding.Embedder
	index    vectordb.Index
	log      *logrus.Entry

	mu      sync.Mutex
	entries map[string]*CacheEntry // by ID

	sf     singleflight.Group
	ctx    context.Context
	cancel context.CancelFunc
}

// NewSemanticCache builds a SemanticCache and ensures its vector collection
// exists. It starts a background Optimize loop every 5 minutes when
// eviction is enabled.
func NewSemanticCache(cfg SemanticCacheConfig, embedder embedding.Embedder, index vectordb.Index, log *logrus.Entry) (*SemanticCache, error) {
	ctx, cancel := context.WithCancel(context.Background())

	exists, err := index.CollectionExists(ctx, semanticCollection)
	if err != nil {
		cancel()
		return nil, aimwerr.Wrap(aimwerr.StoreError, err, "check semantic cache collection")
	}
	if !exists {
		if err := index.CreateCollection(ctx, vectordb.CollectionConfig{
			Name:       semanticCollection,
			VectorSize: embedder.Dimension(),
			Distance:   vectordb.DistanceCosine,
		}); err != nil {
			cancel()
			return nil, aimwerr.Wrap(aimwerr.StoreError, err, "create semantic cache collection")
		}
	}

	c := &SemanticCache{
		cfg:      cfg,
		embedder: embedder,
		index:    index,
		log:      log.WithField("component", "semantic_cache"),
		entries:  make(map[string]*CacheEntry),
		ctx:      ctx,
		cancel:   cancel,
	}

	if cfg.EnableEviction {
		go c.optimizeLoop()
	}
	return c, nil
}

// Get embeds query, searches the vector index, and returns the best match
// above SimilarityThreshold, or nil with no error on a clean miss.
func (c *SemanticCache) Get(ctx context.Context, query string, reqType models.RequestType, model string, contextTags []string) (*Hit, error) {
	normalized := normalizeQuery(query, reqType)
	sfKey := cacheKey(normalized, model, c.cfg.CacheByModel, contextTags)

	v, err, _ := c.sf.Do(sfKey, func() (interface{}, error) {
		return c.lookup(ctx, normalized)
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.(*Hit), nil
}

func (c *SemanticCache) lookup(ctx context.Context, normalized string) (*Hit, error) {
	vec, err := c.embedder.Embed(ctx, normalized)
	if err != nil {
		return nil, aimwerr.Wrap(aimwerr.ProviderError, err, "embed query")
	}

	threshold := c.cfg.SimilarityThreshold
	if threshold <= 0 {
		threshold = 0.85
	}
	results, err := c.index.Search(ctx, semanticCollection, vec, vectordb.SearchOptions{
		Limit:          5,
		ScoreThreshold: threshold,
		WithPayload:    true,
	})
	if err != nil {
		return nil, aimwerr.Wrap(aimwerr.StoreError, err, "search semantic cache")
	}
	if len(results) == 0 {
		return nil, nil
	}
	best := results[0]

	c.mu.Lock()
	entry, ok := c.entries[best.ID]
	c.mu.Unlock()
	if !ok {
		return nil, nil
	}
	if entry.expired() {
		c.deleteEntry(ctx, entry.ID)
		return nil, nil
	}
	if entry.Quality < c.cfg.QualityThreshold {
		return nil, nil
	}

	c.mu.Lock()
	entry.AccessCount++
	entry.LastAccess = time.Now()
	c.mu.Unlock()

	response := entry.Response
	if entry.Compressed {
		response, err = gunzip(response)
		if err != nil {
			return nil, aimwerr.Wrap(aimwerr.StoreError, err, "decompress cache entry")
		}
	}

	timeSaved, _ := entry.Metadata["latencyMs"].(int64)
	costSaved, _ := entry.Metadata["costUsd"].(float64)

	hitEntry := *entry
	hitEntry.Response = response
	hitEntry.Compressed = false

	return &Hit{
		Entry:        hitEntry,
		Similarity:   best.Score,
		IsExact:      best.Score > 0.99,
		TimeSavedMs:  timeSaved,
		CostSavedUSD: costSaved,
	}, nil
}

// Set stores response under query's embedding, dropping silently if
// metadata quality is below QualityThreshold. The entry record and its
// vector record become visible atomically from a caller's perspective:
// both are written before Set returns, or neither persists.
func (c *SemanticCache) Set(ctx context.Context, query string, reqType models.RequestType, response []byte, quality float64, model string, metadata map[string]interface{}, contextTags []string) error {
	if quality < c.cfg.QualityThreshold {
		return nil
	}

	c.mu.Lock()
	var victim string
	if c.cfg.MaxCacheSizeEntries > 0 && len(c.entries) >= c.cfg.MaxCacheSizeEntries {
		victim = c.evictOneLocked()
	}
	c.mu.Unlock()
	if victim != "" {
		c.deleteEntry(ctx, victim)
	}

	normalized := normalizeQuery(query, reqType)
	vec, err := c.embedder.Embed(ctx, normalized)
	if err != nil {
		return aimwerr.Wrap(aimwerr.ProviderError, err, "embed query")
	}

	body := response
	compressed := false
	if c.cfg.CompressionEnabled && len(body) > compressionThresholdBytes {
		if gz, err := gzipBytes(body); err == nil && len(gz) < len(body) {
			body = gz
			compressed = true
		}
	}

	entry := &CacheEntry{
		ID:              uuid.NewString(),
		Query:           query,
		NormalizedQuery: normalized,
		Response:        body,
		Compressed:      compressed,
		Metadata:        metadata,
		Quality:         quality,
		ContextTags:     contextTags,
		Model:           model,
		CreatedAt:       time.Now(),
		LastAccess:      time.Now(),
		TTL:             c.cfg.DefaultTTL,
	}

	if err := c.index.Upsert(ctx, semanticCollection, []vectordb.Point{{
		ID:     entry.ID,
		Vector: vec,
		Payload: map[string]interface{}{
			"normalizedQuery": normalized,
			"model":           model,
		},
	}}); err != nil {
		return aimwerr.Wrap(aimwerr.StoreError, err, "upsert semantic cache vector")
	}

	c.mu.Lock()
	c.entries[entry.ID] = entry
	c.mu.Unlock()

	return nil
}

// Invalidate clears every entry (pattern == nil) or every entry whose
// original query contains pattern.
func (c *SemanticCache) Invalidate(ctx context.Context, pattern *string) (int, error) {
	c.mu.Lock()
	var toDelete []string
	for id, e := range c.entries {
		if pattern == nil || strings.Contains(e.Query, *pattern) {
			toDelete = append(toDelete, id)
		}
	}
	c.mu.Unlock()

	for _, id := range toDelete {
		c.deleteEntry(ctx, id)
	}
	return len(toDelete), nil
}

func (c *SemanticCache) deleteEntry(ctx context.Context, id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
	if err := c.index.Delete(ctx, semanticCollection, []string{id}); err != nil {
		c.log.WithError(err).WithField("entry_id", id).Warn("failed to delete vector record")
	}
}

// Warmup stores a placeholder, quality-passing response for every query
// not already cached, so a subsequent exact match short-circuits.
func (c *SemanticCache) Warmup(ctx context.Context, queries []string, reqType models.RequestType) error {
	for _, q := range queries {
		hit, err := c.Get(ctx, q, reqType, "", nil)
		if err != nil {
			return err
		}
		if hit != nil {
			continue
		}
		if err := c.Set(ctx, q, reqType, []byte(""), c.cfg.QualityThreshold, "", map[string]interface{}{"warmup": true}, nil); err != nil {
			return err
		}
	}
	return nil
}

// Optimize expires TTL-expired entries, applies eviction to return size
// within MaxCacheSizeEntries, and compresses any large uncompressed bodies.
func (c *SemanticCache) Optimize(ctx context.Context) OptimizeResult {
	start := time.Now()
	var evicted int
	var bytesReclaimed int64

	c.mu.Lock()
	var expired []string
	for id, e := range c.entries {
		if e.expired() {
			expired = append(expired, id)
		}
	}
	c.mu.Unlock()
	for _, id := range expired {
		c.mu.Lock()
		if e, ok := c.entries[id]; ok {
			bytesReclaimed += int64(len(e.Response))
		}
		c.mu.Unlock()
		c.deleteEntry(ctx, id)
		evicted++
	}

	if c.cfg.EnableEviction {
		var victims []string
		c.mu.Lock()
		for c.cfg.MaxCacheSizeEntries > 0 && len(c.entries) > c.cfg.MaxCacheSizeEntries {
			var reclaimed int64
			id := c.worstEntryLocked()
			if id == "" {
				break
			}
			reclaimed = int64(len(c.entries[id].Response))
			delete(c.entries, id)
			victims = append(victims, id)
			bytesReclaimed += reclaimed
			evicted++
		}
		c.mu.Unlock()
		for _, id := range victims {
			c.deleteEntry(ctx, id)
		}
	}

	c.mu.Lock()
	for _, e := range c.entries {
		if c.cfg.CompressionEnabled && !e.Compressed && len(e.Response) > compressionThresholdBytes {
			if gz, err := gzipBytes(e.Response); err == nil && len(gz) < len(e.Response) {
				bytesReclaimed += int64(len(e.Response) - len(gz))
				e.Response = gz
				e.Compressed = true
			}
		}
	}
	c.mu.Unlock()

	return OptimizeResult{Evicted: evicted, BytesReclaimed: bytesReclaimed, DurationMs: time.Since(start).Milliseconds()}
}

// evictOneLocked removes one entry under the configured policy from the
// entry map and returns its ID ("" if the cache is empty), so the caller
// can delete its vector record after releasing c.mu; must be called with
// c.mu held.
func (c *SemanticCache) evictOneLocked() string {
	id := c.worstEntryLocked()
	if id != "" {
		delete(c.entries, id)
	}
	return id
}

// worstEntryLocked returns the ID of the entry the configured policy would
// evict first, or "" if the cache is empty; must be called with c.mu held.
func (c *SemanticCache) worstEntryLocked() string {
	if len(c.entries) == 0 {
		return ""
	}

	type scored struct {
		id    string
		score float64
	}
	now := time.Now()
	var candidates []scored

	for id, e := range c.entries {
		var s float64
		switch c.cfg.EvictionPolicy {
		case "lru":
			s = -float64(now.Sub(e.LastAccess))
		case "lfu":
			s = float64(e.AccessCount)
		case "semantic-relevance":
			s = e.Quality
		default: // "hybrid"
			ageDays := now.Sub(e.CreatedAt).Hours() / 24
			s = (float64(e.AccessCount+1) * e.Quality) / (ageDays + 1)
		}
		candidates = append(candidates, scored{id: id, score: s})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score < candidates[j].score })
	return candidates[0].id
}

// Len returns the current number of cached entries.
func (c *SemanticCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *SemanticCache) optimizeLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.Optimize(c.ctx)
		}
	}
}

// Close stops the background optimize loop.
func (c *SemanticCache) Close() error {
	c.cancel()
	return nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
