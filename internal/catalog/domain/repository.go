package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type UpsertOutcome string

const (
	UpsertInserted UpsertOutcome = "inserted"
	UpsertUpdated  UpsertOutcome = "updated"
	// UpsertStale means the live row was already at least as new.
	UpsertStale UpsertOutcome = "stale"
)

// Repository is the system of record. Reads never return deleted rows and
// FindByExternalID returns (nil, nil) when nothing matches.
type Repository interface {
	FindByExternalID(ctx context.Context, db *gorm.DB, externalID int64) (*CatalogItem, error)
	ListLive(ctx context.Context, db *gorm.DB) ([]CatalogItem, error)
	Insert(ctx context.Context, db *gorm.DB, item *CatalogItem) error
	Update(ctx context.Context, db *gorm.DB, item *CatalogItem) (bool, error)
	Upsert(ctx context.Context, db *gorm.DB, item *CatalogItem) (UpsertOutcome, error)
	SoftDelete(ctx context.Context, db *gorm.DB, externalID int64, at time.Time) (bool, error)
}
