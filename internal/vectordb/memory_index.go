package vectordb

import (
	"context"
	"math"
	"sort"
	"sync"

	"aimw.dev/aimw/internal/aimwerr"
)

// MemoryIndex is a brute-force, process-local Index used in tests and as
// the fallback when Qdrant is disabled in configuration. Search is O(n) per
// call; acceptable for the collection sizes exercised in this module's test
// suite and for small deployments with no vector database.
type MemoryIndex struct {
	mu          sync.RWMutex
	collections map[string]map[string]Point
}

// NewMemoryIndex builds an empty MemoryIndex.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{collections: make(map[string]map[string]Point)}
}

func (m *MemoryIndex) CreateCollection(ctx context.Context, cfg CollectionConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[cfg.Name]; ok {
		return aimwerr.Newf(aimwerr.Validation, "collection %q already exists", cfg.Name)
	}
	m.collections[cfg.Name] = make(map[string]Point)
	return nil
}

func (m *MemoryIndex) CollectionExists(ctx context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.collections[name]
	return ok, nil
}

func (m *MemoryIndex) DeleteCollection(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, name)
	return nil
}

func (m *MemoryIndex) ensure(name string) map[string]Point {
	c, ok := m.collections[name]
	if !ok {
		c = make(map[string]Point)
		m.collections[name] = c
	}
	return c
}

func (m *MemoryIndex) Upsert(ctx context.Context, collection string, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.ensure(collection)
	for _, p := range points {
		c[p.ID] = p
	}
	return nil
}

func (m *MemoryIndex) Delete(ctx context.Context, collection string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[collection]
	if !ok {
		return nil
	}
	for _, id := range ids {
		delete(c, id)
	}
	return nil
}

func (m *MemoryIndex) Get(ctx context.Context, collection string, ids []string) ([]Point, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[collection]
	if !ok {
		return nil, nil
	}
	out := make([]Point, 0, len(ids))
	for _, id := range ids {
		if p, ok := c[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MemoryIndex) Search(ctx context.Context, collection string, query []float32, opts SearchOptions) ([]ScoredPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[collection]
	if !ok {
		return nil, nil
	}

	scored := make([]ScoredPoint, 0, len(c))
	for _, p := range c {
		score := CosineSimilarity(query, p.Vector)
		if opts.ScoreThreshold > 0 && score < opts.ScoreThreshold {
			continue
		}
		sp := ScoredPoint{ID: p.ID, Score: score}
		if opts.WithPayload {
			sp.Payload = p.Payload
		}
		if opts.WithVectors {
			sp.Vector = p.Vector
		}
		scored = append(scored, sp)
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	limit := opts.Limit
	if limit <= 0 || limit > len(scored) {
		limit = len(scored)
	}
	return scored[:limit], nil
}

func (m *MemoryIndex) Count(ctx context.Context, collection string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.collections[collection])), nil
}

func (m *MemoryIndex) Close() error { return nil }

// CosineSimilarity returns the cosine similarity of a and b, or 0 if either
// is a zero vector or their lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
