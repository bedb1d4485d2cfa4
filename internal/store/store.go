// Package store defines the Store capability every other component depends
// on and provides a reference implementation backed by Redis, following the
// teacher's convention of a thin interface plus one concrete adapter per
// external system.
package store

import "context"

// FtSchemaField describes one field of a search index schema.
type FtSchemaField struct {
	Name string
	Type string // "TEXT", "TAG", "NUMERIC", "VECTOR"
}

// FtSearchOptions narrows an FtSearch call.
type FtSearchOptions struct {
	Params map[string]interface{}
	Return []string
	SortBy string
	Limit  int
}

// FtSearchResult is one row of an FtSearch result set.
type FtSearchResult struct {
	Key    string
	Fields map[string]interface{}
	Score  float64
}

// TsOptions configures a timeseries key at creation.
type TsOptions struct {
	RetentionMs     int64
	DuplicatePolicy string // "last", "first", "min", "max", "block"
}

// TsSample is one timeseries sample.
type TsSample struct {
	TimestampMs int64
	Value       float64
}

// PipelineOp is one operation queued for a Pipeline call.
type PipelineOp struct {
	Cmd  string // "get", "set", "del", "hget", "hset"
	Args []interface{}
}

// PipelineResult is the outcome of one queued PipelineOp.
type PipelineResult struct {
	Value interface{}
	Err   error
}

// Store is the capability every pool, cache, and vector-adjacent component
// depends on instead of a concrete driver. Ping is used for health checks
// and connection validation by the pool.
type Store interface {
	Ping(ctx context.Context) error

	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlMs int64) error
	Del(ctx context.Context, keys ...string) (int64, error)

	HGet(ctx context.Context, hash, field string) ([]byte, error)
	HSet(ctx context.Context, hash, field string, value []byte) error

	KeysByPattern(ctx context.Context, pattern string) ([]string, error)
	MemoryUsage(ctx context.Context, key string) (int64, error)

	JsonGet(ctx context.Context, key, path string) ([]byte, error)
	JsonSet(ctx context.Context, key, path string, value []byte) error
	JsonNumIncrBy(ctx context.Context, key, path string, n float64) (float64, error)

	Pipeline(ctx context.Context, ops []PipelineOp) ([]PipelineResult, error)

	FtCreate(ctx context.Context, index string, schema []FtSchemaField) error
	FtSearch(ctx context.Context, index, query string, opts FtSearchOptions) ([]FtSearchResult, error)

	TsCreate(ctx context.Context, key string, opts TsOptions) error
	TsAdd(ctx context.Context, key string, timestampMs int64, value float64) error
	TsRange(ctx context.Context, key string, fromMs, toMs int64) ([]TsSample, error)

	Close() error
}
