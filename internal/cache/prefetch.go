// Package cache implements the prefetch cache (C3) and semantic cache
// (C6), both generalized from the teacher's internal/cache/tiered_cache.go
// (L1 in-memory map with per-entry hit counts, LRU-by-hitcount eviction,
// background cleanup loop) and internal/cache/expiration.go's validator
// registry, onto the Store capability instead of a concrete Redis client.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"aimw.dev/aimw/internal/store"
)

// PrefetchConfig is C3's configuration surface.
type PrefetchConfig struct {
	Enabled                   bool
	MaxCacheSizeBytes         int64
	PrefetchThreshold         float64
	BackgroundRefreshInterval time.Duration
	PopularityDecayFactor     float64
}

// DefaultPrefetchConfig mirrors the module-wide spec defaults.
func DefaultPrefetchConfig() PrefetchConfig {
	return PrefetchConfig{
		Enabled:                   true,
		MaxCacheSizeBytes:         64 * 1024 * 1024,
		PrefetchThreshold:         0.6,
		BackgroundRefreshInterval: 30 * time.Second,
		PopularityDecayFactor:     0.95,
	}
}

// AccessPattern tracks how a key has been observed to be used.
type AccessPattern struct {
	Count       int64
	PeakCount   int64
	LastAccess  time.Time
	AverageGap  time.Duration
	CoAccessed  map[string]int64 // keys observed close in time to this one
}

type entry struct {
	value      []byte
	size       int64
	lastRefresh time.Time
	pattern    AccessPattern
}

// PrefetchCache is a read-through, access-pattern-aware cache in front of a
// Store. It is safe for concurrent use.
type PrefetchCache struct {
	cfg   PrefetchConfig
	store store.Store
	log   *logrus.Entry

	mu      sync.Mutex
	entries map[string]*entry
	size    int64

	recent []recentAccess // sliding window for co-occurrence discovery
	sf     singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
}

type recentAccess struct {
	key string
	at  time.Time
}

const coOccurrenceWindow = 2 * time.Second
const recentWindowCap = 256

// NewPrefetchCache builds a PrefetchCache and starts its background
// refresh loop when cfg.Enabled.
func NewPrefetchCache(cfg PrefetchConfig, s store.Store, log *logrus.Entry) *PrefetchCache {
	ctx, cancel := context.WithCancel(context.Background())
	c := &PrefetchCache{
		cfg:     cfg,
		store:   s,
		log:     log.WithField("component", "prefetch_cache"),
		entries: make(map[string]*entry),
		ctx:     ctx,
		cancel:  cancel,
	}
	if cfg.Enabled && cfg.BackgroundRefreshInterval > 0 {
		go c.backgroundRefreshLoop()
	}
	return c
}

// Get serves key from memory if present, otherwise fetches through Store,
// caches the result, and returns it. Concurrent cold Gets for the same key
// cause at most one Store fetch.
func (c *PrefetchCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.touch(key, e)
		value := e.value
		c.mu.Unlock()
		return value, nil
	}
	c.mu.Unlock()

	v, err, _ := c.sf.Do(key, func() (interface{}, error) {
		val, err := c.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		c.admit(key, val)
		return val, nil
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.([]byte), nil
}

// MGet deduplicates keys, serves hits from memory, and fetches misses
// through Get one key at a time (the Store capability has no native
// multi-get). Misses are not fetched concurrently, and the first fetch
// error stops the loop.
func (c *PrefetchCache) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	seen := make(map[string]struct{}, len(keys))
	unique := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		unique = append(unique, k)
	}

	out := make(map[string][]byte, len(unique))
	var misses []string

	c.mu.Lock()
	for _, k := range unique {
		if e, ok := c.entries[k]; ok {
			c.touch(k, e)
			out[k] = e.value
		} else {
			misses = append(misses, k)
		}
	}
	c.mu.Unlock()

	for _, k := range misses {
		v, err := c.Get(ctx, k)
		if err != nil {
			return out, err
		}
		out[k] = v
	}
	return out, nil
}

// touch updates pattern bookkeeping and the co-occurrence window; must be
// called with c.mu held.
func (c *PrefetchCache) touch(key string, e *entry) {
	now := time.Now()
	if !e.pattern.LastAccess.IsZero() {
		gap := now.Sub(e.pattern.LastAccess)
		if e.pattern.AverageGap == 0 {
			e.pattern.AverageGap = gap
		} else {
			e.pattern.AverageGap = (e.pattern.AverageGap + gap) / 2
		}
	}
	e.pattern.Count++
	if e.pattern.Count > e.pattern.PeakCount {
		e.pattern.PeakCount = e.pattern.Count
	}
	e.pattern.LastAccess = now

	c.recordCoAccess(key, now)

	if e.pattern.PeakCount > 0 && float64(e.pattern.Count) >= c.cfg.PrefetchThreshold*float64(e.pattern.PeakCount) {
		go c.prefetchRelated(key, e)
	}
}

// recordCoAccess notes that key was accessed at t and links it with any
// other key accessed within coOccurrenceWindow; must be called with c.mu held.
func (c *PrefetchCache) recordCoAccess(key string, t time.Time) {
	for _, r := range c.recent {
		if t.Sub(r.at) <= coOccurrenceWindow && r.key != key {
			if e, ok := c.entries[key]; ok {
				if e.pattern.CoAccessed == nil {
					e.pattern.CoAccessed = make(map[string]int64)
				}
				e.pattern.CoAccessed[r.key]++
			}
			if e, ok := c.entries[r.key]; ok {
				if e.pattern.CoAccessed == nil {
					e.pattern.CoAccessed = make(map[string]int64)
				}
				e.pattern.CoAccessed[key]++
			}
		}
	}
	c.recent = append(c.recent, recentAccess{key: key, at: t})
	if len(c.recent) > recentWindowCap {
		c.recent = c.recent[len(c.recent)-recentWindowCap:]
	}
}

// prefetchRelated warms the keys most often co-accessed with key.
func (c *PrefetchCache) prefetchRelated(key string, e *entry) {
	c.mu.Lock()
	related := make([]string, 0, len(e.pattern.CoAccessed))
	for k := range e.pattern.CoAccessed {
		if _, cached := c.entries[k]; !cached {
			related = append(related, k)
		}
	}
	c.mu.Unlock()

	for _, k := range related {
		if _, err := c.Get(c.ctx, k); err != nil {
			c.log.WithError(err).WithField("key", k).Debug("related-key prefetch failed")
		}
	}
}

// admit stores value under key, evicting least-useful entries if needed to
// stay within MaxCacheSizeBytes.
func (c *PrefetchCache) admit(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := int64(len(value))
	for c.cfg.MaxCacheSizeBytes > 0 && c.size+size > c.cfg.MaxCacheSizeBytes && len(c.entries) > 0 {
		c.evictOneLocked()
	}

	c.entries[key] = &entry{value: value, size: size, lastRefresh: time.Now()}
	c.size += size
}

// evictOneLocked removes the least-useful entry; must be called with c.mu held.
// usefulness = normalized(frequency) * recency - normalized(size).
func (c *PrefetchCache) evictOneLocked() {
	if len(c.entries) == 0 {
		return
	}
	var maxFreq, maxSize int64
	for _, e := range c.entries {
		if e.pattern.Count > maxFreq {
			maxFreq = e.pattern.Count
		}
		if e.size > maxSize {
			maxSize = e.size
		}
	}

	var worstKey string
	var worstScore = 1e18
	now := time.Now()
	for k, e := range c.entries {
		freq := 0.0
		if maxFreq > 0 {
			freq = float64(e.pattern.Count) / float64(maxFreq)
		}
		recency := 1.0 / (1.0 + now.Sub(e.pattern.LastAccess).Seconds())
		sizeNorm := 0.0
		if maxSize > 0 {
			sizeNorm = float64(e.size) / float64(maxSize)
		}
		score := freq*recency - sizeNorm
		if score < worstScore {
			worstScore = score
			worstKey = k
		}
	}

	if worstKey != "" {
		c.size -= c.entries[worstKey].size
		delete(c.entries, worstKey)
	}
}

// Size returns the current total cached bytes.
func (c *PrefetchCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Len returns the current number of cached entries.
func (c *PrefetchCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *PrefetchCache) backgroundRefreshLoop() {
	ticker := time.NewTicker(c.cfg.BackgroundRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.refreshHottest()
			c.decayPopularity()
		}
	}
}

// refreshHottest re-fetches the top-N hottest entries whose last refresh
// is older than BackgroundRefreshInterval. The age limit is the same for
// every entry; it is not adjusted by popularity or decay.
func (c *PrefetchCache) refreshHottest() {
	const topN = 10
	type candidate struct {
		key   string
		count int64
	}

	c.mu.Lock()
	candidates := make([]candidate, 0, len(c.entries))
	for k, e := range c.entries {
		if time.Since(e.lastRefresh) > c.cfg.BackgroundRefreshInterval {
			candidates = append(candidates, candidate{key: k, count: e.pattern.Count})
		}
	}
	c.mu.Unlock()

	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			if candidates[j].count > candidates[i].count {
				candidates[i], candidates[j] = candidates[j], candidates[i]
			}
		}
	}
	if len(candidates) > topN {
		candidates = candidates[:topN]
	}

	for _, cand := range candidates {
		val, err := c.store.Get(c.ctx, cand.key)
		if err != nil {
			continue
		}
		c.mu.Lock()
		if e, ok := c.entries[cand.key]; ok {
			c.size += int64(len(val)) - e.size
			e.value = val
			e.size = int64(len(val))
			e.lastRefresh = time.Now()
		}
		c.mu.Unlock()
	}
}

// decayPopularity applies PopularityDecayFactor to every entry's access count.
func (c *PrefetchCache) decayPopularity() {
	c.mu.Lock()
	defer c.mu.Unlock()
	factor := c.cfg.PopularityDecayFactor
	if factor <= 0 || factor >= 1 {
		return
	}
	for _, e := range c.entries {
		e.pattern.Count = int64(float64(e.pattern.Count) * factor)
	}
}

// Close stops the background refresh loop.
func (c *PrefetchCache) Close() error {
	c.cancel()
	return nil
}
