package migration

import (
	"context"
	"errors"
	"fmt"

	"github.com/smallbiznis/catalog/internal/catalog/domain"
	"gorm.io/gorm"
)

// The live-row uniqueness rule needs a partial index, which GORM tags cannot
// express portably.
const (
	liveExternalIDIndexName = "ux_catalog_items_external_id_live"
	liveExternalIDIndex     = `CREATE UNIQUE INDEX IF NOT EXISTS ux_catalog_items_external_id_live
	ON catalog_items (external_id) WHERE deleted = false`
)

// AutoMigrate creates the catalog table for development and tests.
// Production schemas are managed outside this process. An existing table is
// left as is: some sqlite drivers cannot re-parse the partial index DDL.
func AutoMigrate(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	conn := db.WithContext(ctx)
	switch conn.Dialector.Name() {
	case "postgres", "sqlite":
	default:
		// MySQL has no partial indexes; a generated column would be needed.
		return fmt.Errorf("auto migrate unsupported for dialect %q", conn.Dialector.Name())
	}

	migrator := conn.Migrator()
	if !migrator.HasTable(&domain.CatalogItem{}) {
		if err := conn.AutoMigrate(&domain.CatalogItem{}); err != nil {
			return fmt.Errorf("auto migrate catalog_items: %w", err)
		}
	}
	if !migrator.HasIndex(&domain.CatalogItem{}, liveExternalIDIndexName) {
		if err := conn.Exec(liveExternalIDIndex).Error; err != nil {
			return fmt.Errorf("create live external id index: %w", err)
		}
	}
	return nil
}
