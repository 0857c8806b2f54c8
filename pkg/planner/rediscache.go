package planner

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kittclouds/memori/internal/store"
)

// RedisCache is the optional plan cache backend for deployments sharing a
// plan cache across multiple Coordinator processes. The in-process MapCache
// remains the default; this exists for horizontally scaled callers.
type RedisCache struct {
	client *redis.Client
	prefix string
	log    *zap.Logger
}

// NewRedisCache wraps an existing *redis.Client. keyPrefix namespaces cache
// keys so multiple applications can share one Redis instance.
func NewRedisCache(client *redis.Client, keyPrefix string, log *zap.Logger) *RedisCache {
	return &RedisCache{client: client, prefix: keyPrefix, log: log}
}

func (c *RedisCache) Get(ctx context.Context, key string) (store.SearchQuery, bool) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn("planner redis cache: get failed", zap.Error(err))
		}
		return store.SearchQuery{}, false
	}

	var q store.SearchQuery
	if err := json.Unmarshal(raw, &q); err != nil {
		c.log.Warn("planner redis cache: decode failed", zap.Error(err))
		return store.SearchQuery{}, false
	}
	return q, true
}

func (c *RedisCache) Set(ctx context.Context, key string, q store.SearchQuery, ttl time.Duration) {
	raw, err := json.Marshal(q)
	if err != nil {
		c.log.Warn("planner redis cache: encode failed", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, c.prefix+key, raw, ttl).Err(); err != nil {
		c.log.Warn("planner redis cache: set failed", zap.Error(err))
	}
}
