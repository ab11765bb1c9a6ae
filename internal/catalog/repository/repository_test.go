package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/catalog/internal/catalog/domain"
	"github.com/smallbiznis/catalog/internal/migration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, migration.AutoMigrate(context.Background(), db))
	return db
}

func row(id, externalID int64, title string, at time.Time) *domain.CatalogItem {
	return &domain.CatalogItem{
		ID:          id,
		ExternalID:  externalID,
		Title:       title,
		Price:       decimal.RequireFromString("109.95"),
		Description: "Your perfect pack for everyday use",
		Category:    "men's clothing",
		ImageRef:    "https://example.test/81fPKd-2AYL.jpg",
		RatingValue: 3.9,
		RatingCount: 120,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
}

func TestFindByExternalIDMissingReturnsNil(t *testing.T) {
	db := setupDB(t)
	r := Provide()

	got, err := r.FindByExternalID(context.Background(), db, 42)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestInsertAndFind(t *testing.T) {
	db := setupDB(t)
	r := Provide()
	ctx := context.Background()

	require.NoError(t, r.Insert(ctx, db, row(100, 1, "Backpack", baseTime)))

	got, err := r.FindByExternalID(ctx, db, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(100), got.ID)
	assert.Equal(t, "Backpack", got.Title)
	assert.True(t, decimal.RequireFromString("109.95").Equal(got.Price))
	assert.Equal(t, int64(120), got.RatingCount)
	assert.False(t, got.Deleted)
}

func TestInsertDuplicateLiveExternalIDIsConflict(t *testing.T) {
	db := setupDB(t)
	r := Provide()
	ctx := context.Background()

	require.NoError(t, r.Insert(ctx, db, row(100, 1, "Backpack", baseTime)))
	err := r.Insert(ctx, db, row(101, 1, "Backpack", baseTime))
	assert.True(t, errors.Is(err, domain.ErrConflict), "expected conflict, got %v", err)
}

func TestUpsertIsIdempotent(t *testing.T) {
	db := setupDB(t)
	r := Provide()
	ctx := context.Background()

	first, err := r.Upsert(ctx, db, row(100, 1, "Backpack", baseTime))
	require.NoError(t, err)
	assert.Equal(t, domain.UpsertInserted, first)

	repriced := row(101, 1, "Backpack", baseTime)
	repriced.Price = decimal.RequireFromString("99.50")
	second, err := r.Upsert(ctx, db, repriced)
	require.NoError(t, err)
	assert.Equal(t, domain.UpsertUpdated, second)

	rows, err := r.ListLive(ctx, db)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(100), rows[0].ID)
	assert.Equal(t, "Backpack", rows[0].Title)
	assert.True(t, decimal.RequireFromString("99.50").Equal(rows[0].Price), "got price %s", rows[0].Price)
}

func TestUpsertNewerWins(t *testing.T) {
	db := setupDB(t)
	r := Provide()
	ctx := context.Background()

	_, err := r.Upsert(ctx, db, row(100, 1, "Backpack", baseTime))
	require.NoError(t, err)

	outcome, err := r.Upsert(ctx, db, row(101, 1, "Backpack v2", baseTime.Add(time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, domain.UpsertUpdated, outcome)

	got, err := r.FindByExternalID(ctx, db, 1)
	require.NoError(t, err)
	assert.Equal(t, "Backpack v2", got.Title)
}

func TestUpsertOlderIsStale(t *testing.T) {
	db := setupDB(t)
	r := Provide()
	ctx := context.Background()

	_, err := r.Upsert(ctx, db, row(100, 1, "Backpack v2", baseTime.Add(time.Minute)))
	require.NoError(t, err)

	outcome, err := r.Upsert(ctx, db, row(101, 1, "Backpack", baseTime))
	require.NoError(t, err)
	assert.Equal(t, domain.UpsertStale, outcome)

	got, err := r.FindByExternalID(ctx, db, 1)
	require.NoError(t, err)
	assert.Equal(t, "Backpack v2", got.Title)
}

func TestSoftDeleteHidesRowAndAllowsReinsert(t *testing.T) {
	db := setupDB(t)
	r := Provide()
	ctx := context.Background()

	require.NoError(t, r.Insert(ctx, db, row(100, 1, "Backpack", baseTime)))
	require.NoError(t, r.Insert(ctx, db, row(200, 2, "T-Shirt", baseTime)))

	deleted, err := r.SoftDelete(ctx, db, 1, baseTime.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, deleted)

	again, err := r.SoftDelete(ctx, db, 1, baseTime.Add(2*time.Second))
	require.NoError(t, err)
	assert.False(t, again)

	got, err := r.FindByExternalID(ctx, db, 1)
	require.NoError(t, err)
	assert.Nil(t, got)

	rows, err := r.ListLive(ctx, db)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(2), rows[0].ExternalID)

	outcome, err := r.Upsert(ctx, db, row(101, 1, "Backpack", baseTime.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, domain.UpsertInserted, outcome)
}

// insertRivalBeforeFirstInsert lands a competing row for the same external id
// just before the next INSERT statement reaches the database.
func insertRivalBeforeFirstInsert(t *testing.T, db *gorm.DB, rival *domain.CatalogItem) {
	t.Helper()
	var fired atomic.Bool
	err := db.Callback().Raw().Before("gorm:raw").Register("test:rival_insert", func(tx *gorm.DB) {
		if !strings.HasPrefix(strings.TrimSpace(tx.Statement.SQL.String()), "INSERT") {
			return
		}
		if !fired.CompareAndSwap(false, true) {
			return
		}
		if err := Provide().Insert(context.Background(), db, rival); err != nil {
			_ = tx.AddError(err)
		}
	})
	require.NoError(t, err)
}

func TestUpsertLosingInsertRaceToOlderRowIsConflict(t *testing.T) {
	db := setupDB(t)
	r := Provide()
	ctx := context.Background()

	insertRivalBeforeFirstInsert(t, db, row(900, 1, "Backpack", baseTime))

	outcome, err := r.Upsert(ctx, db, row(100, 1, "Backpack v2", baseTime.Add(time.Minute)))
	require.ErrorIs(t, err, domain.ErrConflict)
	assert.Empty(t, outcome)

	// the retry sees the rival and updates it
	outcome, err = r.Upsert(ctx, db, row(101, 1, "Backpack v2", baseTime.Add(time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, domain.UpsertUpdated, outcome)

	rows, err := r.ListLive(ctx, db)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(900), rows[0].ID)
	assert.Equal(t, "Backpack v2", rows[0].Title)
}

func TestUpsertLosingInsertRaceToNewerRowIsStale(t *testing.T) {
	db := setupDB(t)
	r := Provide()
	ctx := context.Background()

	insertRivalBeforeFirstInsert(t, db, row(900, 1, "Backpack v2", baseTime.Add(time.Minute)))

	outcome, err := r.Upsert(ctx, db, row(100, 1, "Backpack", baseTime))
	require.NoError(t, err)
	assert.Equal(t, domain.UpsertStale, outcome)

	got, err := r.FindByExternalID(ctx, db, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Backpack v2", got.Title)
}
