package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store against a real Redis (or Redis-module-enabled)
// server. FT* and TS* operations are issued as raw commands via Do, since
// go-redis carries no typed client for the RediSearch/RedisTimeSeries
// modules; callers that never touch search or timeseries features incur no
// extra cost.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore builds a RedisStore from a pre-constructed go-redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return data, err
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttlMs int64) error {
	var ttl time.Duration
	if ttlMs > 0 {
		ttl = time.Duration(ttlMs) * time.Millisecond
	}
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	return s.client.Del(ctx, keys...).Result()
}

func (s *RedisStore) HGet(ctx context.Context, hash, field string) ([]byte, error) {
	data, err := s.client.HGet(ctx, hash, field).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return data, err
}

func (s *RedisStore) HSet(ctx context.Context, hash, field string, value []byte) error {
	return s.client.HSet(ctx, hash, field, value).Err()
}

func (s *RedisStore) KeysByPattern(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

func (s *RedisStore) MemoryUsage(ctx context.Context, key string) (int64, error) {
	n, err := s.client.MemoryUsage(ctx, key).Result()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

func (s *RedisStore) JsonGet(ctx context.Context, key, path string) ([]byte, error) {
	res, err := s.client.Do(ctx, "JSON.GET", key, path).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toBytes(res)
}

func (s *RedisStore) JsonSet(ctx context.Context, key, path string, value []byte) error {
	return s.client.Do(ctx, "JSON.SET", key, path, string(value)).Err()
}

func (s *RedisStore) JsonNumIncrBy(ctx context.Context, key, path string, n float64) (float64, error) {
	res, err := s.client.Do(ctx, "JSON.NUMINCRBY", key, path, n).Result()
	if err != nil {
		return 0, err
	}
	switch v := res.(type) {
	case float64:
		return v, nil
	case string:
		var f float64
		_, scanErr := fmt.Sscanf(v, "%g", &f)
		return f, scanErr
	default:
		return 0, fmt.Errorf("unexpected JSON.NUMINCRBY reply type %T", res)
	}
}

func (s *RedisStore) Pipeline(ctx context.Context, ops []PipelineOp) ([]PipelineResult, error) {
	pipe := s.client.Pipeline()
	cmds := make([]*redis.Cmd, len(ops))
	for i, op := range ops {
		args := append([]interface{}{op.Cmd}, op.Args...)
		cmds[i] = pipe.Do(ctx, args...)
	}
	_, err := pipe.Exec(ctx)
	if err != nil && err != redis.Nil {
		return nil, err
	}
	results := make([]PipelineResult, len(cmds))
	for i, cmd := range cmds {
		val, cmdErr := cmd.Result()
		if cmdErr == redis.Nil {
			cmdErr = nil
		}
		results[i] = PipelineResult{Value: val, Err: cmdErr}
	}
	return results, nil
}

func (s *RedisStore) FtCreate(ctx context.Context, index string, schema []FtSchemaField) error {
	args := []interface{}{"FT.CREATE", index, "SCHEMA"}
	for _, f := range schema {
		args = append(args, f.Name, f.Type)
	}
	return s.client.Do(ctx, args...).Err()
}

func (s *RedisStore) FtSearch(ctx context.Context, index, query string, opts FtSearchOptions) ([]FtSearchResult, error) {
	args := []interface{}{"FT.SEARCH", index, query}
	if len(opts.Return) > 0 {
		args = append(args, "RETURN", len(opts.Return))
		for _, f := range opts.Return {
			args = append(args, f)
		}
	}
	if opts.SortBy != "" {
		args = append(args, "SORTBY", opts.SortBy)
	}
	if opts.Limit > 0 {
		args = append(args, "LIMIT", 0, opts.Limit)
	}
	for k, v := range opts.Params {
		args = append(args, "PARAM", k, v)
	}

	raw, err := s.client.Do(ctx, args...).Result()
	if err != nil {
		return nil, err
	}
	return parseFtSearchReply(raw)
}

func (s *RedisStore) TsCreate(ctx context.Context, key string, opts TsOptions) error {
	args := []interface{}{"TS.CREATE", key}
	if opts.RetentionMs > 0 {
		args = append(args, "RETENTION", opts.RetentionMs)
	}
	if opts.DuplicatePolicy != "" {
		args = append(args, "DUPLICATE_POLICY", opts.DuplicatePolicy)
	}
	return s.client.Do(ctx, args...).Err()
}

func (s *RedisStore) TsAdd(ctx context.Context, key string, timestampMs int64, value float64) error {
	return s.client.Do(ctx, "TS.ADD", key, timestampMs, value).Err()
}

func (s *RedisStore) TsRange(ctx context.Context, key string, fromMs, toMs int64) ([]TsSample, error) {
	raw, err := s.client.Do(ctx, "TS.RANGE", key, fromMs, toMs).Result()
	if err != nil {
		return nil, err
	}
	rows, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected TS.RANGE reply type %T", raw)
	}
	samples := make([]TsSample, 0, len(rows))
	for _, row := range rows {
		pair, ok := row.([]interface{})
		if !ok || len(pair) != 2 {
			continue
		}
		ts, err := toInt64(pair[0])
		if err != nil {
			continue
		}
		val, err := toFloat64(pair[1])
		if err != nil {
			continue
		}
		samples = append(samples, TsSample{TimestampMs: ts, Value: val})
	}
	return samples, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func parseFtSearchReply(raw interface{}) ([]FtSearchResult, error) {
	rows, ok := raw.([]interface{})
	if !ok || len(rows) == 0 {
		return nil, nil
	}
	// rows[0] is the total count; key/fields pairs follow.
	var results []FtSearchResult
	for i := 1; i+1 < len(rows); i += 2 {
		key, _ := rows[i].(string)
		fieldList, _ := rows[i+1].([]interface{})
		fields := make(map[string]interface{}, len(fieldList)/2)
		for j := 0; j+1 < len(fieldList); j += 2 {
			name, _ := fieldList[j].(string)
			fields[name] = fieldList[j+1]
		}
		results = append(results, FtSearchResult{Key: key, Fields: fields})
	}
	return results, nil
}

func toBytes(v interface{}) ([]byte, error) {
	switch t := v.(type) {
	case string:
		return []byte(t), nil
	case []byte:
		return t, nil
	default:
		return nil, fmt.Errorf("unexpected reply type %T", v)
	}
}

func toInt64(v interface{}) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case string:
		var n int64
		_, err := fmt.Sscanf(t, "%d", &n)
		return n, err
	default:
		return 0, fmt.Errorf("unexpected int reply type %T", v)
	}
}

func toFloat64(v interface{}) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case string:
		var f float64
		_, err := fmt.Sscanf(t, "%g", &f)
		return f, err
	default:
		return 0, fmt.Errorf("unexpected float reply type %T", v)
	}
}
