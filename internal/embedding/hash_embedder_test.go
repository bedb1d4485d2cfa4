package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
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

func TestHashEmbedderDeterministic(t *testing.T) {
	e := NewHashEmbedder(64)
	ctx := context.Background()

	v1, err := e.Embed(ctx, "hello world")
	require.NoError(t, err)
	v2, err := e.Embed(ctx, "hello world")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Len(t, v1, 64)
}

func TestHashEmbedderDistinguishesInputs(t *testing.T) {
	e := NewHashEmbedder(64)
	ctx := context.Background()

	v1, err := e.Embed(ctx, "hello world")
	require.NoError(t, err)
	v2, err := e.Embed(ctx, "goodbye world")
	require.NoError(t, err)

	assert.Less(t, cosine(v1, v2), 0.999)
}

func TestHashEmbedderBatchMatchesSingle(t *testing.T) {
	e := NewHashEmbedder(32)
	ctx := context.Background()

	single, err := e.Embed(ctx, "a")
	require.NoError(t, err)

	batch, err := e.BatchEmbed(ctx, []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, single, batch[0])
}
