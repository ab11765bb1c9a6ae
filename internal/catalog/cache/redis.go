package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/catalog/internal/catalog/domain"
	"github.com/smallbiznis/catalog/internal/observability/logger"
	"go.uber.org/zap"
)

const mgetChunk = 100

// RedisCache stores one JSON document per item under "{prefix}:{external_id}".
type RedisCache struct {
	client    redis.UniversalClient
	prefix    string
	scanCount int64
	log       *zap.Logger
}

func NewRedisCache(client redis.UniversalClient, prefix string, scanCount int64, log *zap.Logger) *RedisCache {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "catalog_item"
	}
	if scanCount <= 0 {
		scanCount = 100
	}
	return &RedisCache{
		client:    client,
		prefix:    prefix,
		scanCount: scanCount,
		log:       log.Named("catalog.cache.redis"),
	}
}

func (c *RedisCache) key(externalID int64) string {
	return fmt.Sprintf("%s:%d", c.prefix, externalID)
}

func (c *RedisCache) Get(ctx context.Context, externalID int64) (*domain.Item, bool) {
	raw, err := c.client.Get(ctx, c.key(externalID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.debug(ctx, "cache get failed", err, zap.Int64("external_id", externalID))
		}
		return nil, false
	}

	var item domain.Item
	if err := json.Unmarshal(raw, &item); err != nil {
		c.debug(ctx, "cache entry undecodable", err, zap.Int64("external_id", externalID))
		return nil, false
	}
	return &item, true
}

// GetAll walks the key space with SCAN, so the result is a point-in-time
// best effort under concurrent writes and expiry.
func (c *RedisCache) GetAll(ctx context.Context) []domain.Item {
	var keys []string
	iter := c.client.Scan(ctx, 0, c.prefix+":*", c.scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.debug(ctx, "cache scan failed", err)
		return nil
	}

	items := make([]domain.Item, 0, len(keys))
	for start := 0; start < len(keys); start += mgetChunk {
		end := min(start+mgetChunk, len(keys))
		values, err := c.client.MGet(ctx, keys[start:end]...).Result()
		if err != nil {
			c.debug(ctx, "cache mget failed", err)
			return nil
		}
		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				continue
			}
			var item domain.Item
			if err := json.Unmarshal([]byte(raw), &item); err != nil {
				c.debug(ctx, "cache entry undecodable", err, zap.String("key", keys[start+i]))
				continue
			}
			items = append(items, item)
		}
	}
	return items
}

func (c *RedisCache) Put(ctx context.Context, item domain.Item, ttl time.Duration) {
	payload, err := json.Marshal(item)
	if err != nil {
		c.debug(ctx, "cache encode failed", err, zap.Int64("external_id", item.ExternalID))
		return
	}
	if err := c.client.Set(ctx, c.key(item.ExternalID), payload, ttl).Err(); err != nil {
		c.debug(ctx, "cache put failed", err, zap.Int64("external_id", item.ExternalID))
	}
}

func (c *RedisCache) PutAll(ctx context.Context, items []domain.Item, ttl time.Duration) {
	if len(items) == 0 {
		return
	}
	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, item := range items {
			payload, err := json.Marshal(item)
			if err != nil {
				c.debug(ctx, "cache encode failed", err, zap.Int64("external_id", item.ExternalID))
				continue
			}
			pipe.Set(ctx, c.key(item.ExternalID), payload, ttl)
		}
		return nil
	})
	if err != nil {
		c.debug(ctx, "cache put_all failed", err, zap.Int("items", len(items)))
	}
}

func (c *RedisCache) debug(ctx context.Context, msg string, err error, fields ...zap.Field) {
	fields = append(fields, zap.Error(err))
	logger.WithContext(ctx, c.log).Debug(msg, fields...)
}

var _ domain.Cache = (*RedisCache)(nil)
