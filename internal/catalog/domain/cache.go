package domain

import (
	"context"
	"time"
)

// Cache is a best-effort projection of upstream values. Failures surface as
// misses; absence never means the item does not exist.
type Cache interface {
	Get(ctx context.Context, externalID int64) (*Item, bool)
	GetAll(ctx context.Context) []Item
	Put(ctx context.Context, item Item, ttl time.Duration)
	PutAll(ctx context.Context, items []Item, ttl time.Duration)
}
