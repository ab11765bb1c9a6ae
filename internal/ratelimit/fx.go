package ratelimit

import (
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("rate.limit",
	fx.Provide(NewUpstreamLimiter),
	fx.Provide(func(client redis.UniversalClient) *Locker { return NewLocker(client) }),
)
