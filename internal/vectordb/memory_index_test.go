package vectordb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIndexUpsertAndSearch(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	require.NoError(t, idx.CreateCollection(ctx, CollectionConfig{Name: "docs", VectorSize: 3, Distance: DistanceCosine}))

	require.NoError(t, idx.Upsert(ctx, "docs", []Point{
		{ID: "a", Vector: []float32{1, 0, 0}, Payload: map[string]interface{}{"kind": "text"}},
		{ID: "b", Vector: []float32{0, 1, 0}},
		{ID: "c", Vector: []float32{0.9, 0.1, 0}},
	}))

	results, err := idx.Search(ctx, "docs", []float32{1, 0, 0}, SearchOptions{Limit: 2, WithPayload: true})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "text", results[0].Payload["kind"])
	assert.Equal(t, "c", results[1].ID)
}

func TestMemoryIndexDelete(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	require.NoError(t, idx.CreateCollection(ctx, CollectionConfig{Name: "docs", VectorSize: 2}))
	require.NoError(t, idx.Upsert(ctx, "docs", []Point{{ID: "a", Vector: []float32{1, 1}}}))

	require.NoError(t, idx.Delete(ctx, "docs", []string{"a"}))

	count, err := idx.Count(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestCosineSimilarityOrthogonalIsZero(t *testing.T) {
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}))
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{2, 0}, []float32{5, 0}), 0.0001)
}
