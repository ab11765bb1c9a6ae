package reconcile

import (
	"context"
	"time"

	"github.com/smallbiznis/catalog/internal/catalog/domain"
	"github.com/smallbiznis/catalog/internal/clock"
	"github.com/smallbiznis/catalog/internal/config"
	"github.com/smallbiznis/catalog/internal/observability/metrics"
	"github.com/smallbiznis/catalog/pkg/telemetry/correlation"
	"go.uber.org/zap"
)

// idlePoll is how often a disabled refresher rechecks the tunables.
const idlePoll = 30 * time.Second

// Refresher periodically schedules a full catalog refresh.
type Refresher struct {
	scheduler domain.TaskScheduler
	tunables  *config.TunablesHolder
	clock     clock.Clock
	log       *zap.Logger
	metrics   *metrics.ReconcileMetrics
	warmUp    bool
}

func NewRefresher(
	scheduler domain.TaskScheduler,
	tunables *config.TunablesHolder,
	clk clock.Clock,
	cfg Config,
	log *zap.Logger,
	m *metrics.ReconcileMetrics,
) *Refresher {
	return &Refresher{
		scheduler: scheduler,
		tunables:  tunables,
		clock:     clk,
		log:       log.Named("reconcile.refresher"),
		metrics:   m,
		warmUp:    cfg.WarmUp,
	}
}

// RunForever ticks at the current refresh interval. The interval is reread
// every cycle so a reload of catalog.yml takes effect without a restart.
func (r *Refresher) RunForever(ctx context.Context) {
	if r.warmUp {
		if err := r.RunOnce(ctx); err != nil {
			r.log.Warn("catalog warm-up failed", zap.Error(err))
		}
	}

	for {
		interval := r.tunables.Get().RefreshInterval
		wait := interval
		if wait <= 0 {
			wait = idlePoll
		}

		scheduled := r.clock.Now().Add(wait)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if interval <= 0 {
			continue
		}

		r.metrics.ObserveRunLoopLag(r.clock.Now().Sub(scheduled))
		if err := r.RunOnce(ctx); err != nil {
			r.log.Warn("catalog refresh schedule failed", zap.Error(err))
		}
	}
}

func (r *Refresher) RunOnce(ctx context.Context) error {
	ctx, correlationID := correlation.EnsureCorrelationID(ctx)
	task := domain.NewTask(ctx, domain.TaskRefresh, nil, false)
	if err := r.scheduler.Schedule(ctx, task); err != nil {
		return err
	}
	r.log.Debug("catalog refresh scheduled",
		zap.String("task_id", task.ID),
		zap.String("correlation_id", correlationID),
	)
	return nil
}
