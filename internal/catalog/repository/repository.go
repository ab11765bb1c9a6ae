package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/catalog/internal/catalog/domain"
	dbpkg "github.com/smallbiznis/catalog/pkg/db"
	"gorm.io/gorm"
)

const selectColumns = `id, external_id, title, price, description, category, image_ref,
	rating_value, rating_count, deleted, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByExternalID(ctx context.Context, db *gorm.DB, externalID int64) (*domain.CatalogItem, error) {
	var row domain.CatalogItem
	err := db.WithContext(ctx).Raw(
		`SELECT `+selectColumns+`
		 FROM catalog_items WHERE external_id = ? AND deleted = false
		 LIMIT 1`,
		externalID,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	return &row, nil
}

func (r *repo) ListLive(ctx context.Context, db *gorm.DB) ([]domain.CatalogItem, error) {
	var rows []domain.CatalogItem
	err := db.WithContext(ctx).Raw(
		`SELECT ` + selectColumns + `
		 FROM catalog_items WHERE deleted = false ORDER BY external_id ASC`,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Insert fails with domain.ErrConflict when a live row already holds the
// external id.
func (r *repo) Insert(ctx context.Context, db *gorm.DB, item *domain.CatalogItem) error {
	if item == nil || item.ID == 0 {
		return gorm.ErrInvalidData
	}
	err := db.WithContext(ctx).Exec(
		`INSERT INTO catalog_items (id, external_id, title, price, description, category, image_ref,
			rating_value, rating_count, deleted, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, false, ?, ?)`,
		item.ID,
		item.ExternalID,
		item.Title,
		item.Price,
		item.Description,
		item.Category,
		item.ImageRef,
		item.RatingValue,
		item.RatingCount,
		item.CreatedAt,
		item.UpdatedAt,
	).Error
	if dbpkg.IsDuplicateKeyErr(err) {
		return fmt.Errorf("%w: external_id %d", domain.ErrConflict, item.ExternalID)
	}
	return err
}

// Update overwrites the live row unless it already carries a newer
// updated_at. It reports whether a row changed.
func (r *repo) Update(ctx context.Context, db *gorm.DB, item *domain.CatalogItem) (bool, error) {
	if item == nil {
		return false, gorm.ErrInvalidData
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE catalog_items
		 SET title = ?, price = ?, description = ?, category = ?, image_ref = ?,
			rating_value = ?, rating_count = ?, updated_at = ?
		 WHERE external_id = ? AND deleted = false AND updated_at <= ?`,
		item.Title,
		item.Price,
		item.Description,
		item.Category,
		item.ImageRef,
		item.RatingValue,
		item.RatingCount,
		item.UpdatedAt,
		item.ExternalID,
		item.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Upsert applies last-write-wins on updated_at without a read-then-write
// window: the conditional update runs first and the unique index arbitrates
// concurrent inserts. A lost insert race against an older row surfaces as
// domain.ErrConflict so the caller retries.
func (r *repo) Upsert(ctx context.Context, db *gorm.DB, item *domain.CatalogItem) (domain.UpsertOutcome, error) {
	updated, err := r.Update(ctx, db, item)
	if err != nil {
		return "", err
	}
	if updated {
		return domain.UpsertUpdated, nil
	}

	err = r.Insert(ctx, db, item)
	if err == nil {
		return domain.UpsertInserted, nil
	}
	if !errors.Is(err, domain.ErrConflict) {
		return "", err
	}

	existing, findErr := r.FindByExternalID(ctx, db, item.ExternalID)
	if findErr != nil {
		return "", findErr
	}
	if existing != nil && !existing.UpdatedAt.Before(item.UpdatedAt) {
		return domain.UpsertStale, nil
	}
	return "", err
}

func (r *repo) SoftDelete(ctx context.Context, db *gorm.DB, externalID int64, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE catalog_items SET deleted = true, updated_at = ?
		 WHERE external_id = ? AND deleted = false`,
		at,
		externalID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
