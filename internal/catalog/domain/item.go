package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Item is the tier-neutral catalog value shared by the cache, the upstream
// adapter, task payloads and API responses.
type Item struct {
	ID          int64           `json:"id,omitempty"`
	ExternalID  int64           `json:"external_id"`
	Title       string          `json:"title"`
	Price       decimal.Decimal `json:"price"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	ImageRef    string          `json:"image"`
	RatingValue float64         `json:"rating_value"`
	RatingCount int64           `json:"rating_count"`
	CreatedAt   *time.Time      `json:"created_at,omitempty"`
	UpdatedAt   *time.Time      `json:"updated_at,omitempty"`
	ObservedAt  time.Time       `json:"observed_at"`
}

// Validate rejects values that must never reach the system of record.
func (i Item) Validate() error {
	switch {
	case i.ExternalID <= 0:
		return fmt.Errorf("%w: external_id must be positive", ErrInvalidItem)
	case i.Price.IsNegative():
		return fmt.Errorf("%w: price must not be negative", ErrInvalidItem)
	case i.RatingValue < 0:
		return fmt.Errorf("%w: rating value must not be negative", ErrInvalidItem)
	case i.RatingCount < 0:
		return fmt.Errorf("%w: rating count must not be negative", ErrInvalidItem)
	}
	return nil
}

// ToRow maps the item onto a row. UpdatedAt carries the observation time so
// that the store can order competing writes.
func (i Item) ToRow() CatalogItem {
	observed := i.ObservedAt.UTC()
	return CatalogItem{
		ID:          i.ID,
		ExternalID:  i.ExternalID,
		Title:       i.Title,
		Price:       i.Price,
		Description: i.Description,
		Category:    i.Category,
		ImageRef:    i.ImageRef,
		RatingValue: i.RatingValue,
		RatingCount: i.RatingCount,
		CreatedAt:   observed,
		UpdatedAt:   observed,
	}
}

func ItemFromRow(row CatalogItem) Item {
	createdAt := row.CreatedAt
	updatedAt := row.UpdatedAt
	return Item{
		ID:          row.ID,
		ExternalID:  row.ExternalID,
		Title:       row.Title,
		Price:       row.Price,
		Description: row.Description,
		Category:    row.Category,
		ImageRef:    row.ImageRef,
		RatingValue: row.RatingValue,
		RatingCount: row.RatingCount,
		CreatedAt:   &createdAt,
		UpdatedAt:   &updatedAt,
		ObservedAt:  updatedAt,
	}
}
