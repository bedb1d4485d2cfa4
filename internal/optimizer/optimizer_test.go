package optimizer

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aimw.dev/aimw/internal/aimwerr"
	"aimw.dev/aimw/internal/vectordb"
)

func seedIndex(t *testing.T, collection string, n int) *vectordb.MemoryIndex {
	t.Helper()
	idx := vectordb.NewMemoryIndex()
	require.NoError(t, idx.CreateCollection(context.Background(), vectordb.CollectionConfig{
		Name: collection, VectorSize: 4, Distance: vectordb.DistanceCosine,
	}))
	points := make([]vectordb.Point, n)
	for i := 0; i < n; i++ {
		points[i] = vectordb.Point{ID: keyForN(i), Vector: []float32{1, 0, 0, float32(i)}}
	}
	require.NoError(t, idx.Upsert(context.Background(), collection, points))
	return idx
}

func keyForN(i int) string { return string(rune('a' + i)) }

func TestOptimizeVectorSearchClampsEf(t *testing.T) {
	cfg := DefaultConfig()
	o := New(cfg, vectordb.NewMemoryIndex(), logrus.NewEntry(logrus.New()))

	plan, err := o.OptimizeVectorSearch(Query{Collection: "docs", Vector: make([]float32, 16), Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 100, plan.OptimizedQuery.Ef)

	plan2, err := o.OptimizeVectorSearch(Query{Collection: "docs", Vector: make([]float32, 16), Limit: 10, Ef: 30})
	require.NoError(t, err)
	assert.Equal(t, 30, plan2.OptimizedQuery.Ef)
}

func TestOptimizeVectorSearchRejectsOverComplexity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxComplexity = 1
	o := New(cfg, vectordb.NewMemoryIndex(), logrus.NewEntry(logrus.New()))

	_, err := o.OptimizeVectorSearch(Query{Collection: "docs", Vector: make([]float32, 1536), Limit: 1000})
	require.Error(t, err)
	assert.True(t, aimwerr.Is(err, aimwerr.ComplexityExceeded))
}

func TestExecuteOptimizedQueryCachesPartialStrategy(t *testing.T) {
	cfg := DefaultConfig()
	idx := seedIndex(t, "docs", 5)
	o := New(cfg, idx, logrus.NewEntry(logrus.New()))
	ctx := context.Background()

	plan, err := o.OptimizeVectorSearch(Query{Collection: "docs", Vector: []float32{1, 0, 0, 0}, Limit: 3})
	require.NoError(t, err)

	r1, err := o.ExecuteOptimizedQuery(ctx, plan)
	require.NoError(t, err)
	assert.Len(t, r1.Results, 3)

	r2, err := o.ExecuteOptimizedQuery(ctx, plan)
	require.NoError(t, err)
	assert.Equal(t, r1, r2)

	m := o.Metrics()
	assert.Equal(t, int64(1), m.CacheHits)
}

func TestExecuteOptimizedQueryNoneBypassesCache(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableResultCaching = false
	idx := seedIndex(t, "docs", 5)
	o := New(cfg, idx, logrus.NewEntry(logrus.New()))
	ctx := context.Background()

	plan, err := o.OptimizeVectorSearch(Query{Collection: "docs", Vector: []float32{1, 0, 0, 0}, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, CacheNone, plan.CacheStrategy)

	_, err = o.ExecuteOptimizedQuery(ctx, plan)
	require.NoError(t, err)
	m := o.Metrics()
	assert.Equal(t, int64(0), m.CacheHits)
	assert.Equal(t, int64(0), m.CacheMisses)
}

func TestInvalidatePrefixClearsMatchingEntries(t *testing.T) {
	cfg := DefaultConfig()
	idx := seedIndex(t, "docs", 5)
	o := New(cfg, idx, logrus.NewEntry(logrus.New()))
	ctx := context.Background()

	plan, err := o.OptimizeVectorSearch(Query{Collection: "docs", Vector: []float32{1, 0, 0, 0}, Limit: 3})
	require.NoError(t, err)
	_, err = o.ExecuteOptimizedQuery(ctx, plan)
	require.NoError(t, err)

	o.InvalidatePrefix("docs")
	_, ok := o.cacheGet(plan.fingerprint)
	assert.False(t, ok)
}

func TestCostModelIncreasesWithDimensionAndLimit(t *testing.T) {
	low := cost(128, 10)
	high := cost(1536, 1000)
	assert.Less(t, low, high)
}
