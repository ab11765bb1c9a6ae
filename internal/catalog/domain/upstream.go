package domain

import "context"

// Upstream is the remote catalog. Every failure satisfies
// errors.Is(err, ErrUpstreamUnavailable).
type Upstream interface {
	List(ctx context.Context) ([]Item, error)
	Get(ctx context.Context, externalID int64) (*Item, error)
}
