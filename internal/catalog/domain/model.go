package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CatalogItem is the system-of-record row. ExternalID is unique among rows
// with Deleted = false.
type CatalogItem struct {
	ID          int64           `json:"id" gorm:"primaryKey;autoIncrement:false"`
	ExternalID  int64           `json:"external_id" gorm:"column:external_id;not null"`
	Title       string          `json:"title" gorm:"type:text;not null"`
	Price       decimal.Decimal `json:"price" gorm:"type:numeric(12,2);not null"`
	Description string          `json:"description" gorm:"type:text;not null;default:''"`
	Category    string          `json:"category" gorm:"type:text;not null;default:''"`
	ImageRef    string          `json:"image" gorm:"column:image_ref;type:text;not null;default:''"`
	RatingValue float64         `json:"rating_value" gorm:"not null;default:0"`
	RatingCount int64           `json:"rating_count" gorm:"not null;default:0"`
	Deleted     bool            `json:"deleted" gorm:"not null;default:false;index"`
	CreatedAt   time.Time       `json:"created_at" gorm:"not null;autoCreateTime:false"`
	UpdatedAt   time.Time       `json:"updated_at" gorm:"not null;autoUpdateTime:false"`
}

func (CatalogItem) TableName() string { return "catalog_items" }
