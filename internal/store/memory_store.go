package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryStore is a process-local Store used by unit tests and as a
// last-resort fallback when no Redis endpoint is configured. It implements
// every Store method with plain maps guarded by a mutex; FT*/TS* support is
// intentionally minimal since nothing in this module's test suite exercises
// full-text relevance scoring.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]entry
	hashes map[string]map[string][]byte
	series map[string][]TsSample
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]entry),
		hashes: make(map[string]map[string][]byte),
		series: make(map[string][]TsSample),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.values[key]
	if !ok {
		return nil, nil
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(s.values, key)
		return nil, nil
	}
	return e.value, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttlMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expiresAt time.Time
	if ttlMs > 0 {
		expiresAt = time.Now().Add(time.Duration(ttlMs) * time.Millisecond)
	}
	s.values[key] = entry{value: value, expiresAt: expiresAt}
	return nil
}

func (s *MemoryStore) Del(ctx context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := s.values[k]; ok {
			delete(s.values, k)
			n++
		}
		if _, ok := s.hashes[k]; ok {
			delete(s.hashes, k)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) HGet(ctx context.Context, hash, field string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.hashes[hash]; ok {
		return h[field], nil
	}
	return nil, nil
}

func (s *MemoryStore) HSet(ctx context.Context, hash, field string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hashes[hash]
	if !ok {
		h = make(map[string][]byte)
		s.hashes[hash] = h
	}
	h[field] = value
	return nil
}

func (s *MemoryStore) KeysByPattern(ctx context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var keys []string
	for k := range s.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *MemoryStore) MemoryUsage(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.values[key].value)), nil
}

func (s *MemoryStore) JsonGet(ctx context.Context, key, path string) ([]byte, error) {
	return s.Get(ctx, key)
}

func (s *MemoryStore) JsonSet(ctx context.Context, key, path string, value []byte) error {
	return s.Set(ctx, key, value, 0)
}

func (s *MemoryStore) JsonNumIncrBy(ctx context.Context, key, path string, n float64) (float64, error) {
	return 0, fmt.Errorf("memory store: JSON.NUMINCRBY not supported")
}

func (s *MemoryStore) Pipeline(ctx context.Context, ops []PipelineOp) ([]PipelineResult, error) {
	results := make([]PipelineResult, len(ops))
	for i, op := range ops {
		switch strings.ToLower(op.Cmd) {
		case "get":
			key, _ := op.Args[0].(string)
			v, err := s.Get(ctx, key)
			results[i] = PipelineResult{Value: v, Err: err}
		case "set":
			key, _ := op.Args[0].(string)
			val, _ := op.Args[1].([]byte)
			err := s.Set(ctx, key, val, 0)
			results[i] = PipelineResult{Err: err}
		case "del":
			key, _ := op.Args[0].(string)
			n, err := s.Del(ctx, key)
			results[i] = PipelineResult{Value: n, Err: err}
		default:
			results[i] = PipelineResult{Err: fmt.Errorf("memory store: unsupported pipeline op %q", op.Cmd)}
		}
	}
	return results, nil
}

func (s *MemoryStore) FtCreate(ctx context.Context, index string, schema []FtSchemaField) error {
	return nil
}

func (s *MemoryStore) FtSearch(ctx context.Context, index, query string, opts FtSearchOptions) ([]FtSearchResult, error) {
	return nil, nil
}

func (s *MemoryStore) TsCreate(ctx context.Context, key string, opts TsOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.series[key]; !ok {
		s.series[key] = []TsSample{}
	}
	return nil
}

func (s *MemoryStore) TsAdd(ctx context.Context, key string, timestampMs int64, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.series[key] = append(s.series[key], TsSample{TimestampMs: timestampMs, Value: value})
	return nil
}

func (s *MemoryStore) TsRange(ctx context.Context, key string, fromMs, toMs int64) ([]TsSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []TsSample
	for _, sample := range s.series[key] {
		if sample.TimestampMs >= fromMs && sample.TimestampMs <= toMs {
			out = append(out, sample)
		}
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
