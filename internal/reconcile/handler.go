package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/catalog/internal/catalog/domain"
	"github.com/smallbiznis/catalog/internal/clock"
	"github.com/smallbiznis/catalog/internal/config"
	"github.com/smallbiznis/catalog/internal/observability/logger"
	"github.com/smallbiznis/catalog/internal/observability/metrics"
	"github.com/smallbiznis/catalog/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	itemsWritten = "written"
	itemsStale   = "stale"
	itemsInvalid = "invalid"
)

type HandlerParams struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Config   Config
	Repo     domain.Repository
	Cache    domain.Cache
	Upstream domain.Upstream
	Tunables *config.TunablesHolder
	Node     *snowflake.Node
	Clock    clock.Clock
	Locker   *ratelimit.Locker         `optional:"true"`
	Metrics  *metrics.ReconcileMetrics `optional:"true"`
}

// Handler applies one attempt of a reconciliation task. Handle is safe to
// repeat: every write it makes is idempotent.
type Handler struct {
	db       *gorm.DB
	log      *zap.Logger
	cfg      Config
	repo     domain.Repository
	cache    domain.Cache
	upstream domain.Upstream
	tunables *config.TunablesHolder
	node     *snowflake.Node
	clock    clock.Clock
	locker   *ratelimit.Locker
	metrics  *metrics.ReconcileMetrics

	gate localGate
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{
		db:       p.DB,
		log:      p.Log.Named("reconcile.handler"),
		cfg:      p.Config.withDefaults(),
		repo:     p.Repo,
		cache:    p.Cache,
		upstream: p.Upstream,
		tunables: p.Tunables,
		node:     p.Node,
		clock:    p.Clock,
		locker:   p.Locker,
		metrics:  p.Metrics,
	}
}

// Handle runs the task and returns the tasks it wants scheduled next.
func (h *Handler) Handle(ctx context.Context, task domain.Task) ([]domain.Task, error) {
	switch task.Kind {
	case domain.TaskUpsertOne, domain.TaskUpsertMany:
		return nil, h.upsert(ctx, task)
	case domain.TaskRefresh:
		return h.refresh(ctx)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", domain.ErrTaskDecode, task.Kind)
	}
}

func (h *Handler) upsert(ctx context.Context, task domain.Task) error {
	items, err := h.prepare(ctx, task)
	if err != nil {
		return err
	}

	if task.PopulateCache {
		ttl := h.tunables.Get().CacheTTL()
		if len(items) == 1 {
			h.cache.Put(ctx, items[0], ttl)
		} else {
			h.cache.PutAll(ctx, items, ttl)
		}
	}

	written, stale := 0, 0
	defer func() {
		h.metrics.AddItems(itemsWritten, written)
		h.metrics.AddItems(itemsStale, stale)
	}()

	for _, item := range items {
		row := item.ToRow()
		if row.ID == 0 {
			row.ID = h.node.Generate().Int64()
		}

		outcome, err := h.repo.Upsert(ctx, h.db, &row)
		if err != nil {
			return fmt.Errorf("upsert external_id %d: %w", item.ExternalID, err)
		}
		if outcome == domain.UpsertStale {
			stale++
			continue
		}
		written++
	}
	return nil
}

// prepare validates the payload. A single invalid item fails the task; in a
// batch invalid items are dropped so the rest still reconcile.
func (h *Handler) prepare(ctx context.Context, task domain.Task) ([]domain.Item, error) {
	fallback := task.EnqueuedAt
	if fallback.IsZero() {
		fallback = h.clock.Now()
	}

	items := make([]domain.Item, 0, len(task.Items))
	var lastErr error
	for _, item := range task.Items {
		if err := item.Validate(); err != nil {
			lastErr = err
			h.metrics.AddItems(itemsInvalid, 1)
			logger.WithItem(logger.WithContext(ctx, h.log), item.ExternalID).
				Warn("invalid catalog item dropped", zap.Error(err))
			continue
		}
		if item.ObservedAt.IsZero() {
			item.ObservedAt = fallback
		}
		items = append(items, item)
	}

	if len(items) == 0 {
		if lastErr == nil {
			return nil, fmt.Errorf("%w: task carries no items", domain.ErrInvalidItem)
		}
		return nil, lastErr
	}
	if task.Kind == domain.TaskUpsertOne && lastErr != nil {
		return nil, lastErr
	}
	return items, nil
}

// refresh pulls the full upstream catalog, repopulates the cache and hands
// the write-back to an upsert_many task. Concurrent refreshes within the lock
// TTL collapse into one.
func (h *Handler) refresh(ctx context.Context) (followUps []domain.Task, err error) {
	release, acquired := h.acquireRefresh(ctx)
	if !acquired {
		h.metrics.IncRefreshCoalesced()
		logger.WithContext(ctx, h.log).Debug("catalog refresh already in flight")
		return nil, nil
	}
	defer func() {
		// keep the lock on success so it spaces out refreshes
		if err != nil {
			release()
		}
	}()

	items, err := h.upstream.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}

	h.cache.PutAll(ctx, items, h.tunables.Get().CacheTTL())
	return []domain.Task{domain.NewTask(ctx, domain.TaskUpsertMany, items, false)}, nil
}

func (h *Handler) acquireRefresh(ctx context.Context) (func(), bool) {
	if h.locker == nil {
		return h.gate.acquire(h.clock.Now(), h.cfg.RefreshLockTTL)
	}

	lease, err := h.locker.Acquire(ctx, h.cfg.RefreshLockKey, h.cfg.RefreshLockTTL)
	if err != nil {
		logger.WithContext(ctx, h.log).Warn("refresh lock unavailable, using local gate", zap.Error(err))
		return h.gate.acquire(h.clock.Now(), h.cfg.RefreshLockTTL)
	}
	if lease == nil {
		return nil, false
	}
	return func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			h.log.Debug("release refresh lock failed", zap.String("key", lease.Key()), zap.Error(err))
		}
	}, true
}

// localGate coalesces refreshes inside one process when Redis is absent.
type localGate struct {
	mu    sync.Mutex
	until time.Time
}

func (g *localGate) acquire(now time.Time, ttl time.Duration) (func(), bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if now.Before(g.until) {
		return nil, false
	}
	g.until = now.Add(ttl)
	return func() {
		g.mu.Lock()
		g.until = time.Time{}
		g.mu.Unlock()
	}, true
}
