package textgen

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Cache memoizes replies by request content. Implementations must be safe for
// concurrent use; misses and backend errors are indistinguishable to callers.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration)
}

func cacheKey(req Request) string {
	h := sha256.New()
	for _, part := range []string{req.Model, req.SystemPrompt, req.UserPrompt} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return "textgen:" + hex.EncodeToString(h.Sum(nil))
}

// MemoryCache is an in-process LRU whose entries expire after a fixed TTL.
// The per-call ttl passed to Set is ignored.
type MemoryCache struct {
	lru *expirable.LRU[string, string]
}

func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	return &MemoryCache{lru: expirable.NewLRU[string, string](size, nil, ttl)}
}

func (m *MemoryCache) Get(_ context.Context, key string) (string, bool) {
	return m.lru.Get(key)
}

func (m *MemoryCache) Set(_ context.Context, key, value string, _ time.Duration) {
	m.lru.Add(key, value)
}

// RedisCache shares replies between processes.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (r *RedisCache) Get(ctx context.Context, key string) (string, bool) {
	v, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		log.Warn().Err(err).Msg("redis cache get")
		return "", false
	}
	return v, true
}

func (r *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		log.Warn().Err(err).Msg("redis cache set")
	}
}
