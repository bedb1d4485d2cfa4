package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreSetGetDel(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Set(ctx, "k1", []byte("v1"), 0))
	v, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v)

	n, err := s.Del(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	v, err = s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Set(ctx, "k1", []byte("v1"), 5))
	time.Sleep(15 * time.Millisecond)

	v, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestMemoryStoreHash(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.HSet(ctx, "h1", "f1", []byte("v1")))
	v, err := s.HGet(ctx, "h1", "f1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v)
}

func TestMemoryStoreKeysByPattern(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Set(ctx, "prefix:a", []byte("1"), 0))
	require.NoError(t, s.Set(ctx, "prefix:b", []byte("2"), 0))
	require.NoError(t, s.Set(ctx, "other:c", []byte("3"), 0))

	keys, err := s.KeysByPattern(ctx, "prefix:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"prefix:a", "prefix:b"}, keys)
}

func TestMemoryStoreTimeseries(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.TsCreate(ctx, "ts1", TsOptions{}))
	require.NoError(t, s.TsAdd(ctx, "ts1", 100, 1.5))
	require.NoError(t, s.TsAdd(ctx, "ts1", 200, 2.5))

	samples, err := s.TsRange(ctx, "ts1", 0, 150)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, 1.5, samples[0].Value)
}
