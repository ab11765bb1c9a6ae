package ratelimit

import (
	"context"
	"errors"
	"fmt"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/catalog/internal/config"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const keyUpstreamBucket = "catalog:upstream:bucket"

var ErrThrottled = errors.New("upstream_throttled")

// UpstreamLimiter throttles calls to the remote catalog. The local limiter
// always applies; the shared bucket is added when Redis is configured and
// UPSTREAM_SHARED_RATE_LIMIT is set.
type UpstreamLimiter struct {
	local  *rate.Limiter
	bucket *TokenBucket
	limit  Limit
	log    *zap.Logger
}

func NewUpstreamLimiter(cfg config.Config, client redis.UniversalClient, log *zap.Logger) *UpstreamLimiter {
	perSecond := cfg.Upstream.RatePerSecond
	burst := cfg.Upstream.Burst
	if burst <= 0 {
		burst = 1
	}

	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}

	l := &UpstreamLimiter{
		local: rate.NewLimiter(limit, burst),
		limit: Limit{PerSecond: perSecond, Burst: burst},
		log:   log.Named("upstream.limiter"),
	}
	if cfg.Upstream.SharedRateLimit && perSecond > 0 {
		l.bucket = NewTokenBucket(client)
	}
	return l
}

// Wait blocks for a local token, then consults the shared bucket without
// waiting. Shared bucket errors fail open.
func (l *UpstreamLimiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if err := l.local.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrThrottled, err)
	}
	if l.bucket == nil {
		return nil
	}

	res, err := l.bucket.Take(ctx, keyUpstreamBucket, l.limit)
	if err != nil {
		l.log.Debug("shared upstream bucket unavailable", zap.Error(err))
		return nil
	}
	if !res.Allowed {
		return fmt.Errorf("%w: shared bucket empty, retry after %s", ErrThrottled, res.RetryAfter)
	}
	return nil
}
