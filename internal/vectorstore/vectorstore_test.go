package vectorstore

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aimw.dev/aimw/internal/aimwerr"
	"aimw.dev/aimw/internal/vectordb"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	idx := vectordb.NewMemoryIndex()
	a, err := New(context.Background(), idx, "test", 4, logrus.NewEntry(logrus.New()))
	require.NoError(t, err)
	return a
}

func TestStoreAndGetEmbeddingRoundTrip(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	stored, err := a.StoreEmbedding(ctx, Document{
		Vector:      []float32{1, 0, 0, 0},
		ContentID:   "doc-1",
		ContentType: "article",
		Metadata:    map[string]interface{}{"lang": "en"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, stored.ID)

	got, err := a.GetEmbedding(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, "doc-1", got.ContentID)
	assert.Equal(t, "article", got.ContentType)
	assert.Equal(t, "en", got.Metadata["lang"])
}

func TestGetEmbeddingMissingReturnsCacheMiss(t *testing.T) {
	a := newTestAdapter(t)
	_, err := a.GetEmbedding(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.True(t, aimwerr.Is(err, aimwerr.CacheMiss))
}

func TestStoreBatchAssignsIDs(t *testing.T) {
	a := newTestAdapter(t)
	docs, err := a.StoreBatch(context.Background(), []Document{
		{Vector: []float32{1, 0, 0, 0}, ContentID: "a"},
		{Vector: []float32{0, 1, 0, 0}, ContentID: "b"},
	})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.NotEmpty(t, docs[0].ID)
	assert.NotEqual(t, docs[0].ID, docs[1].ID)
}

func TestSearchSimilarDropsBelowThreshold(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	_, err := a.StoreEmbedding(ctx, Document{Vector: []float32{1, 0, 0, 0}, ContentID: "close"})
	require.NoError(t, err)
	_, err = a.StoreEmbedding(ctx, Document{Vector: []float32{0, 0, 0, 1}, ContentID: "far"})
	require.NoError(t, err)

	results, err := a.SearchSimilar(ctx, []float32{1, 0, 0, 0}, SearchParams{Limit: 10, Threshold: 0.9})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "close", results[0].Document.ContentID)
}

func TestSearchByContentTypeFilters(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	_, err := a.StoreEmbedding(ctx, Document{Vector: []float32{1, 0, 0, 0}, ContentType: "image"})
	require.NoError(t, err)
	_, err = a.StoreEmbedding(ctx, Document{Vector: []float32{0.9, 0.1, 0, 0}, ContentType: "text"})
	require.NoError(t, err)

	results, err := a.SearchByContentType(ctx, []float32{1, 0, 0, 0}, "text", SearchParams{Limit: 10})
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, "text", r.Document.ContentType)
	}
}

func TestUpdateRelationships(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	stored, err := a.StoreEmbedding(ctx, Document{Vector: []float32{1, 0, 0, 0}, ContentID: "doc-1"})
	require.NoError(t, err)

	err = a.UpdateRelationships(ctx, stored.ID, []string{"doc-2", "doc-3"})
	require.NoError(t, err)

	got, err := a.GetEmbedding(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-2", "doc-3"}, got.Relationships)
}

func TestDeleteEmbedding(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	stored, err := a.StoreEmbedding(ctx, Document{Vector: []float32{1, 0, 0, 0}})
	require.NoError(t, err)

	require.NoError(t, a.DeleteEmbedding(ctx, stored.ID))

	_, err = a.GetEmbedding(ctx, stored.ID)
	require.Error(t, err)
}
