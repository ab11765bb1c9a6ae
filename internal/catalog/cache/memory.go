package cache

import (
	"context"
	"sort"
	"time"

	"github.com/smallbiznis/catalog/internal/cache"
	"github.com/smallbiznis/catalog/internal/catalog/domain"
	"github.com/smallbiznis/catalog/internal/clock"
)

// MemoryCache keeps items in process. It is per-replica and lost on restart.
type MemoryCache struct {
	store cache.Cache[int64, domain.Item]
}

func NewMemoryCache(c clock.Clock) *MemoryCache {
	return &MemoryCache{store: cache.NewTTLCache[int64, domain.Item](cache.WithClock(c))}
}

func (c *MemoryCache) Get(_ context.Context, externalID int64) (*domain.Item, bool) {
	item, ok := c.store.Get(externalID)
	if !ok {
		return nil, false
	}
	return &item, true
}

func (c *MemoryCache) GetAll(context.Context) []domain.Item {
	items := c.store.Values()
	sort.Slice(items, func(i, j int) bool { return items[i].ExternalID < items[j].ExternalID })
	return items
}

func (c *MemoryCache) Put(_ context.Context, item domain.Item, ttl time.Duration) {
	c.store.Set(item.ExternalID, item, ttl)
}

func (c *MemoryCache) PutAll(ctx context.Context, items []domain.Item, ttl time.Duration) {
	for _, item := range items {
		c.Put(ctx, item, ttl)
	}
}

var _ domain.Cache = (*MemoryCache)(nil)
