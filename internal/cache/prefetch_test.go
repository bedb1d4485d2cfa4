package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aimw.dev/aimw/internal/store"
)

type countingStore struct {
	store.Store
	fetches int32
}

func (c *countingStore) Get(ctx context.Context, key string) ([]byte, error) {
	atomic.AddInt32(&c.fetches, 1)
	time.Sleep(10 * time.Millisecond)
	return []byte("value-for-" + key), nil
}

func TestPrefetchCacheSingleFlightOnColdGet(t *testing.T) {
	inner := store.NewMemoryStore()
	cs := &countingStore{Store: inner}
	c := NewPrefetchCache(PrefetchConfig{Enabled: false, MaxCacheSizeBytes: 1 << 20}, cs, logrus.NewEntry(logrus.New()))
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Get(context.Background(), "shared-key")
			require.NoError(t, err)
			assert.Equal(t, []byte("value-for-shared-key"), v)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&cs.fetches))
}

func TestPrefetchCacheServesFromMemoryOnSecondGet(t *testing.T) {
	inner := store.NewMemoryStore()
	cs := &countingStore{Store: inner}
	c := NewPrefetchCache(PrefetchConfig{Enabled: false, MaxCacheSizeBytes: 1 << 20}, cs, logrus.NewEntry(logrus.New()))
	defer c.Close()

	ctx := context.Background()
	_, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	_, err = c.Get(ctx, "k1")
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&cs.fetches))
}

func TestPrefetchCacheEvictsUnderByteBudget(t *testing.T) {
	inner := store.NewMemoryStore()
	c := NewPrefetchCache(PrefetchConfig{Enabled: false, MaxCacheSizeBytes: 30}, inner, logrus.NewEntry(logrus.New()))
	defer c.Close()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, inner.Set(ctx, keyFor(i), []byte("0123456789"), 0))
		_, err := c.Get(ctx, keyFor(i))
		require.NoError(t, err)
	}

	assert.LessOrEqual(t, c.Size(), int64(30))
}

func keyFor(i int) string {
	return string(rune('a' + i))
}

func TestPrefetchCacheMGetDeduplicatesAndBatchesMisses(t *testing.T) {
	inner := store.NewMemoryStore()
	cs := &countingStore{Store: inner}
	c := NewPrefetchCache(PrefetchConfig{Enabled: false, MaxCacheSizeBytes: 1 << 20}, cs, logrus.NewEntry(logrus.New()))
	defer c.Close()

	out, err := c.MGet(context.Background(), []string{"a", "b", "a", "b"})
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Equal(t, int32(2), atomic.LoadInt32(&cs.fetches))
}
