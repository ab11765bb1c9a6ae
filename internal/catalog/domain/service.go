package domain

import "context"

type Service interface {
	List(ctx context.Context) ([]Item, error)
	Get(ctx context.Context, externalID int64) (*Item, error)
}
