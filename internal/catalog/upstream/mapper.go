package upstream

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/catalog/internal/catalog/domain"
)

type productDTO struct {
	ID          int64           `json:"id"`
	Title       string          `json:"title"`
	Price       decimal.Decimal `json:"price"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Image       string          `json:"image"`
	Rating      struct {
		Rate  float64 `json:"rate"`
		Count int64   `json:"count"`
	} `json:"rating"`
}

func (p productDTO) toItem(observedAt time.Time) domain.Item {
	return domain.Item{
		ExternalID:  p.ID,
		Title:       p.Title,
		Price:       p.Price,
		Description: p.Description,
		Category:    p.Category,
		ImageRef:    p.Image,
		RatingValue: p.Rating.Rate,
		RatingCount: p.Rating.Count,
		ObservedAt:  observedAt,
	}
}
