package batcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatcherCoalescesWithinWindow(t *testing.T) {
	// S2: batcher{maxBatchSize=20, maxWaitTimeMs=50}. Submit 15 GET requests
	// within 10ms; expect exactly 1 grouped call with 15 keys.
	var groupCalls int32
	exec := func(ctx context.Context, kind OpKind, items []Item) ([]ItemResult, error) {
		atomic.AddInt32(&groupCalls, 1)
		results := make([]ItemResult, len(items))
		for i, it := range items {
			results[i] = ItemResult{ID: it.ID, Value: it.Args[0]}
		}
		return results, nil
	}

	b := New(Config{MaxBatchSize: 20, MaxWaitTime: 50 * time.Millisecond, MaxConcurrentBatches: 4}, exec, logrus.NewEntry(logrus.New()))

	var wg sync.WaitGroup
	results := make([]interface{}, 15)
	for i := 0; i < 15; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := b.Execute(context.Background(), Item{ID: fmt.Sprintf("k%d", i), Kind: OpGet, Args: []interface{}{i}})
			require.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&groupCalls))
	for i, v := range results {
		assert.Equal(t, i, v)
	}
}

func TestBatcherFlushesOnMaxBatchSize(t *testing.T) {
	var groupCalls int32
	exec := func(ctx context.Context, kind OpKind, items []Item) ([]ItemResult, error) {
		atomic.AddInt32(&groupCalls, 1)
		results := make([]ItemResult, len(items))
		for i, it := range items {
			results[i] = ItemResult{ID: it.ID, Value: true}
		}
		return results, nil
	}

	b := New(Config{MaxBatchSize: 3, MaxWaitTime: time.Second, MaxConcurrentBatches: 1}, exec, logrus.NewEntry(logrus.New()))

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := b.Execute(context.Background(), Item{ID: fmt.Sprintf("k%d", i), Kind: OpGet})
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&groupCalls))
}

func TestBatcherRetriesIndividuallyOnGroupFailure(t *testing.T) {
	var calls int32
	exec := func(ctx context.Context, kind OpKind, items []Item) ([]ItemResult, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return nil, assertErr
		}
		results := make([]ItemResult, len(items))
		for i, it := range items {
			results[i] = ItemResult{ID: it.ID, Value: "ok"}
		}
		return results, nil
	}

	b := New(Config{MaxBatchSize: 2, MaxWaitTime: 10 * time.Millisecond, MaxConcurrentBatches: 1}, exec, logrus.NewEntry(logrus.New()))

	var wg sync.WaitGroup
	okCount := int32(0)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := b.Execute(context.Background(), Item{ID: fmt.Sprintf("k%d", i), Kind: OpGet})
			if err == nil && v == "ok" {
				atomic.AddInt32(&okCount, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(2), okCount)
}

var assertErr = fmt.Errorf("grouped call failed")
