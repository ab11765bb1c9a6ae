package catalog

import (
	"github.com/smallbiznis/catalog/internal/catalog/cache"
	"github.com/smallbiznis/catalog/internal/catalog/domain"
	"github.com/smallbiznis/catalog/internal/catalog/repository"
	"github.com/smallbiznis/catalog/internal/catalog/service"
	"github.com/smallbiznis/catalog/internal/catalog/upstream"
	"go.uber.org/fx"
)

var Module = fx.Module("catalog",
	fx.Provide(repository.Provide),
	fx.Provide(cache.Provide),
	fx.Provide(
		fx.Annotate(upstream.New, fx.As(new(domain.Upstream))),
	),
	fx.Provide(service.New),
)
