package cache

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/catalog/internal/catalog/domain"
	"github.com/smallbiznis/catalog/internal/clock"
	"github.com/smallbiznis/catalog/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Config config.Config
	Client redis.UniversalClient `optional:"true"`
	Clock  clock.Clock
	Log    *zap.Logger
}

// Provide selects the cache driver. The redis driver falls back to memory
// when no Redis address is configured.
func Provide(p Params) domain.Cache {
	if p.Config.Cache.Driver == config.CacheDriverRedis && p.Client != nil {
		return NewRedisCache(p.Client, p.Config.Cache.KeyPrefix, p.Config.Cache.ScanCount, p.Log)
	}
	if p.Config.Cache.Driver == config.CacheDriverRedis {
		p.Log.Warn("cache driver redis requested without REDIS_ADDR, using memory cache")
	}
	return NewMemoryCache(p.Clock)
}
