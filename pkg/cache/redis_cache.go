package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a CacheManager backed by a Redis server, giving the Cache Tier a
// distributed hot-tier backend that can sit alongside (or instead of) the in-process
// TTLMap. Keys are namespaced under name+":" so multiple RedisCache instances, or a
// RedisCache sharing a database with unrelated data, don't collide.
type RedisCache struct {
	name   string
	client *redis.Client
}

// NewRedisCache wraps an already-connected redis.Client as a CacheManager.
func NewRedisCache(name string, client *redis.Client) *RedisCache {
	return &RedisCache{name: name, client: client}
}

func (r *RedisCache) namespaced(key string) string {
	return r.name + ":" + key
}

func (r *RedisCache) Get(key string) (any, bool) {
	data, err := r.client.Get(context.Background(), r.namespaced(key)).Bytes()
	if err != nil {
		return nil, false
	}
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, false
	}
	return value, true
}

func (r *RedisCache) Set(key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return NewCacheError("set", key, err)
	}
	if err := r.client.Set(context.Background(), r.namespaced(key), data, ttl).Err(); err != nil {
		return NewCacheError("set", key, err)
	}
	return nil
}

func (r *RedisCache) Delete(key string) error {
	if err := r.client.Del(context.Background(), r.namespaced(key)).Err(); err != nil {
		return NewCacheError("delete", key, err)
	}
	return nil
}

func (r *RedisCache) Has(key string) bool {
	n, err := r.client.Exists(context.Background(), r.namespaced(key)).Result()
	return err == nil && n > 0
}

func (r *RedisCache) Stats() CacheStats {
	keys := r.Keys()
	return CacheStats{
		TotalEntries: len(keys),
		TTLEnabled:   true,
		CustomMetrics: map[string]any{
			"backend": "redis",
			"name":    r.name,
		},
	}
}

// Cleanup is a no-op: Redis expires keys server-side via the TTLs passed to Set.
func (r *RedisCache) Cleanup() error {
	return nil
}

func (r *RedisCache) Clear() error {
	keys := r.Keys()
	if len(keys) == 0 {
		return nil
	}
	namespaced := make([]string, len(keys))
	for i, k := range keys {
		namespaced[i] = r.namespaced(k)
	}
	return r.client.Del(context.Background(), namespaced...).Err()
}

func (r *RedisCache) Size() int {
	return len(r.Keys())
}

// Keys scans for this cache's namespaced keys and strips the prefix back off.
// Like TTLMap.Keys, use with caution on a large keyspace.
func (r *RedisCache) Keys() []string {
	ctx := context.Background()
	prefix := r.name + ":"
	var out []string
	iter := r.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		out = append(out, strings.TrimPrefix(iter.Val(), prefix))
	}
	return out
}

func (r *RedisCache) SAdd(key string, members ...string) error {
	if err := r.client.SAdd(context.Background(), r.namespaced(key), stringsToAny(members)...).Err(); err != nil {
		return NewCacheError("sadd", key, err)
	}
	return nil
}

func (r *RedisCache) SRem(key string, members ...string) error {
	if err := r.client.SRem(context.Background(), r.namespaced(key), stringsToAny(members)...).Err(); err != nil {
		return NewCacheError("srem", key, err)
	}
	return nil
}

func (r *RedisCache) SMembers(key string) ([]string, error) {
	members, err := r.client.SMembers(context.Background(), r.namespaced(key)).Result()
	if err != nil {
		return nil, NewCacheError("smembers", key, err)
	}
	return members, nil
}

func stringsToAny(members []string) []any {
	out := make([]any, len(members))
	for i, m := range members {
		out[i] = m
	}
	return out
}
