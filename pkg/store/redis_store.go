package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// flatKeyPrefix/recordKeyPrefix namespace RedisStore's keyspace so a
// query cache can share a Redis instance with other consumers.
const (
	flatKeyPrefix = "kashvi_query:kv:"
	recordsPrefix = "kashvi_query:records:"
)

// RedisStore is a Store backed by Redis: the flat key-value space maps to
// plain string keys, and each named record store maps to a Redis hash
// (HSET field = record id). Modeled on pkg/cache's Connect/ping-then-nil
// defensive style, generalized to the full PersistedStore contract.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an already-configured *redis.Client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Dial creates a *redis.Client from addr/password and wraps it, verifying
// the connection with a ping — the same boot-time check pkg/cache.Connect
// performs before marking itself usable.
func Dial(ctx context.Context, addr, password string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("store: redis ping: %w", err)
	}
	return NewRedisStore(client), nil
}

func (r *RedisStore) Init(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Driver identifies this implementation for metrics labeling.
func (r *RedisStore) Driver() string { return "redis" }

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, flatKeyPrefix+key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: redis get %q: %w", key, err)
	}
	return v, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, flatKeyPrefix+key, value, 0).Err()
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, flatKeyPrefix+key).Err()
}

func (r *RedisStore) Clear(ctx context.Context) error {
	return r.scanDelete(ctx, flatKeyPrefix+"*")
}

func (r *RedisStore) GetRecord(ctx context.Context, storeName, id string) (Record, bool, error) {
	v, err := r.client.HGet(ctx, recordsPrefix+storeName, id).Result()
	if err == redis.Nil {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("store: redis hget %q/%q: %w", storeName, id, err)
	}
	return Record{ID: id, Data: []byte(v)}, true, nil
}

func (r *RedisStore) SetRecord(ctx context.Context, storeName string, rec Record) error {
	return r.client.HSet(ctx, recordsPrefix+storeName, rec.ID, rec.Data).Err()
}

func (r *RedisStore) DeleteRecord(ctx context.Context, storeName, id string) error {
	return r.client.HDel(ctx, recordsPrefix+storeName, id).Err()
}

func (r *RedisStore) GetRecords(ctx context.Context, storeName string) ([]Record, error) {
	all, err := r.client.HGetAll(ctx, recordsPrefix+storeName).Result()
	if err != nil {
		return nil, fmt.Errorf("store: redis hgetall %q: %w", storeName, err)
	}
	out := make([]Record, 0, len(all))
	for id, data := range all {
		out = append(out, Record{ID: id, Data: []byte(data)})
	}
	return out, nil
}

func (r *RedisStore) SetRecords(ctx context.Context, storeName string, records []Record) error {
	key := recordsPrefix + storeName
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("store: redis del %q: %w", storeName, err)
	}
	if len(records) == 0 {
		return nil
	}
	fields := make(map[string]any, len(records))
	for _, rec := range records {
		fields[rec.ID] = rec.Data
	}
	return r.client.HSet(ctx, key, fields).Err()
}

func (r *RedisStore) DeleteRecords(ctx context.Context, storeName string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.client.HDel(ctx, recordsPrefix+storeName, ids...).Err()
}

func (r *RedisStore) ClearStore(ctx context.Context, storeName string) error {
	return r.client.Del(ctx, recordsPrefix+storeName).Err()
}

func (r *RedisStore) scanDelete(ctx context.Context, pattern string) error {
	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("store: redis scan %q: %w", pattern, err)
	}
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}
