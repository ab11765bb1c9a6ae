package service

import (
	"context"
	"fmt"

	"github.com/smallbiznis/catalog/internal/catalog/domain"
	"github.com/smallbiznis/catalog/internal/catalog/upstream"
	"github.com/smallbiznis/catalog/internal/observability/logger"
	"github.com/smallbiznis/catalog/internal/observability/metrics"
	"github.com/smallbiznis/catalog/internal/observability/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Repo      domain.Repository
	Cache     domain.Cache
	Upstream  domain.Upstream
	Scheduler domain.TaskScheduler
	Metrics   *metrics.Metrics `optional:"true"`
}

// Service resolves reads as cache, then upstream, then the system of record.
// Write-back and cache population happen in reconciliation tasks, never on
// the request path.
type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	repo      domain.Repository
	cache     domain.Cache
	upstream  domain.Upstream
	scheduler domain.TaskScheduler
	metrics   *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("catalog.service"),
		repo:      p.Repo,
		cache:     p.Cache,
		upstream:  p.Upstream,
		scheduler: p.Scheduler,
		metrics:   p.Metrics,
	}
}

func (s *Service) List(ctx context.Context) (items []domain.Item, err error) {
	ctx, span := tracing.StartSpan(ctx, "catalog.list")
	defer func() { tracing.EndSpan(span, err) }()

	if cached := s.cache.GetAll(ctx); len(cached) > 0 {
		s.metrics.RecordCacheLookup(ctx, "list", true)
		span.SetAttributes(sourceAttr("cache"), attribute.Int("catalog.items", len(cached)))
		s.schedule(ctx, domain.NewTask(ctx, domain.TaskRefresh, nil, false))
		return cached, nil
	}
	s.metrics.RecordCacheLookup(ctx, "list", false)

	fetched, upErr := s.upstream.List(ctx)
	if upErr == nil {
		span.SetAttributes(sourceAttr("upstream"), attribute.Int("catalog.items", len(fetched)))
		if len(fetched) > 0 {
			s.schedule(ctx, domain.NewTask(ctx, domain.TaskUpsertMany, fetched, true))
		}
		return fetched, nil
	}
	s.upstreamFailed(ctx, "list", upErr)

	rows, err := s.repo.ListLive(ctx, s.db)
	if err != nil {
		s.metrics.RecordFallbackRead(ctx, "list", "error")
		return nil, fmt.Errorf("list catalog items from store: %w", err)
	}
	s.metrics.RecordFallbackRead(ctx, "list", "ok")
	span.SetAttributes(sourceAttr("store"), attribute.Int("catalog.items", len(rows)))

	items = make([]domain.Item, 0, len(rows))
	for _, row := range rows {
		items = append(items, domain.ItemFromRow(row))
	}
	return items, nil
}

func (s *Service) Get(ctx context.Context, externalID int64) (item *domain.Item, err error) {
	if externalID <= 0 {
		return nil, domain.ErrInvalidExternalID
	}

	ctx, span := tracing.StartSpan(ctx, "catalog.get", attribute.Int64("catalog.external_id", externalID))
	defer func() { tracing.EndSpan(span, err) }()

	if cached, ok := s.cache.Get(ctx, externalID); ok {
		s.metrics.RecordCacheLookup(ctx, "get", true)
		span.SetAttributes(sourceAttr("cache"))
		s.schedule(ctx, domain.NewTask(ctx, domain.TaskUpsertOne, []domain.Item{*cached}, true))
		return cached, nil
	}
	s.metrics.RecordCacheLookup(ctx, "get", false)

	fetched, upErr := s.upstream.Get(ctx, externalID)
	if upErr == nil {
		span.SetAttributes(sourceAttr("upstream"))
		s.schedule(ctx, domain.NewTask(ctx, domain.TaskUpsertOne, []domain.Item{*fetched}, true))
		return fetched, nil
	}
	s.upstreamFailed(ctx, "get", upErr)

	row, err := s.repo.FindByExternalID(ctx, s.db, externalID)
	if err != nil {
		s.metrics.RecordFallbackRead(ctx, "get", "error")
		return nil, fmt.Errorf("find catalog item %d in store: %w", externalID, err)
	}
	if row == nil {
		s.metrics.RecordFallbackRead(ctx, "get", "not_found")
		return nil, domain.ErrNotFound
	}
	s.metrics.RecordFallbackRead(ctx, "get", "ok")
	span.SetAttributes(sourceAttr("store"))

	found := domain.ItemFromRow(*row)
	return &found, nil
}

// schedule never fails the caller; a lost task only delays reconciliation.
func (s *Service) schedule(ctx context.Context, task domain.Task) {
	if err := s.scheduler.Schedule(ctx, task); err != nil {
		s.metrics.RecordTaskScheduled(ctx, string(task.Kind), "error")
		logger.WithContext(ctx, s.log).Warn("schedule reconcile task failed",
			zap.String("task_kind", string(task.Kind)),
			zap.String("task_id", task.ID),
			zap.Error(err),
		)
		return
	}
	s.metrics.RecordTaskScheduled(ctx, string(task.Kind), "ok")
}

func (s *Service) upstreamFailed(ctx context.Context, op string, err error) {
	reason := upstream.ReasonOf(err)
	s.metrics.RecordUpstreamFailure(ctx, op, reason)
	logger.WithContext(ctx, s.log).Warn("upstream unavailable, reading system of record",
		zap.String("op", op),
		zap.String("reason", reason),
		zap.Error(err),
	)
}

func sourceAttr(source string) attribute.KeyValue {
	return attribute.String("catalog.source", source)
}
