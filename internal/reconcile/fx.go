package reconcile

import (
	"context"
	"errors"
	"fmt"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/catalog/internal/catalog/domain"
	"github.com/smallbiznis/catalog/internal/config"
	"github.com/smallbiznis/catalog/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var queueOptions = fx.Options(
	fx.Provide(ConfigFrom),
	fx.Provide(NewQueue),
	fx.Provide(func(q Queue) domain.TaskScheduler { return q }),
)

// SchedulerModule only enqueues; processes that run no workers use it.
var SchedulerModule = fx.Module("reconcile.scheduler",
	queueOptions,
	fx.Invoke(warnUnconsumedQueue),
)

var Module = fx.Module("reconcile",
	queueOptions,
	fx.Provide(NewHandler),
	fx.Provide(NewProcessor),
	fx.Provide(NewRefresher),
	fx.Invoke(runWorkers),
	fx.Invoke(runRefresher),
)

type QueueParams struct {
	fx.In

	Lc      fx.Lifecycle
	Config  Config
	Client  redis.UniversalClient `optional:"true"`
	Log     *zap.Logger
	Metrics *metrics.ReconcileMetrics `optional:"true"`
}

func NewQueue(p QueueParams) (Queue, error) {
	var (
		q   Queue
		err error
	)
	switch p.Config.Driver {
	case config.QueueDriverMemory:
		q = NewMemoryQueue(p.Config, p.Log, p.Metrics)
	case config.QueueDriverRedis:
		q, err = NewStreamQueue(p.Client, p.Config, p.Log, p.Metrics)
	case config.QueueDriverKafka:
		q, err = NewKafkaQueue(p.Config, p.Log, p.Metrics)
	default:
		err = fmt.Errorf("unsupported reconcile queue driver %q", p.Config.Driver)
	}
	if err != nil {
		return nil, err
	}

	p.Lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return q.Close()
		},
	})
	return q, nil
}

func runWorkers(lc fx.Lifecycle, q Queue, processor *Processor, cfg Config, log *zap.Logger) {
	log = log.Named("reconcile")
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			stop := runInBackground(func(ctx context.Context) {
				if err := q.Run(ctx, processor.Process); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("reconcile workers stopped", zap.Error(err))
				}
			})
			log.Info("reconcile workers started",
				zap.String("driver", cfg.Driver),
				zap.Int("workers", cfg.Workers),
			)
			lc.Append(fx.Hook{OnStop: stop})
			return nil
		},
	})
}

func runRefresher(lc fx.Lifecycle, refresher *Refresher) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			lc.Append(fx.Hook{OnStop: runInBackground(refresher.RunForever)})
			return nil
		},
	})
}

// runInBackground starts run on its own goroutine. The returned stop cancels
// it and waits for run to return or for the stop deadline.
func runInBackground(run func(ctx context.Context)) func(context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		run(ctx)
	}()

	return func(stopCtx context.Context) error {
		cancel()
		select {
		case <-done:
		case <-stopCtx.Done():
		}
		return nil
	}
}

func warnUnconsumedQueue(cfg Config, log *zap.Logger) {
	if cfg.Driver == config.QueueDriverMemory {
		log.Warn("memory reconcile queue has no workers in this process; tasks will be dropped")
	}
}
