package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/smallbiznis/catalog/internal/catalog/domain"
	"github.com/smallbiznis/catalog/internal/config"
	obscontext "github.com/smallbiznis/catalog/internal/observability/context"
	"github.com/smallbiznis/catalog/internal/observability/logger"
	"github.com/smallbiznis/catalog/internal/observability/metrics"
	"github.com/smallbiznis/catalog/internal/observability/tracing"
	dbpkg "github.com/smallbiznis/catalog/pkg/db"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ProcessFunc runs a task to completion, retries included, and returns the
// tasks to schedule next. A non-nil error is final.
type ProcessFunc func(ctx context.Context, task domain.Task) ([]domain.Task, error)

type ProcessorParams struct {
	fx.In

	Log      *zap.Logger
	Config   Config
	Handler  *Handler
	Tunables *config.TunablesHolder
	Metrics  *metrics.ReconcileMetrics `optional:"true"`
}

type Processor struct {
	log      *zap.Logger
	cfg      Config
	handler  *Handler
	tunables *config.TunablesHolder
	metrics  *metrics.ReconcileMetrics
}

func NewProcessor(p ProcessorParams) *Processor {
	return &Processor{
		log:      p.Log.Named("reconcile.processor"),
		cfg:      p.Config.withDefaults(),
		handler:  p.Handler,
		tunables: p.Tunables,
		metrics:  p.Metrics,
	}
}

// Process applies the retry policy around the handler: a fixed delay between
// attempts, at most MaxRetries retries, no retry for permanent failures.
func (p *Processor) Process(ctx context.Context, task domain.Task) (followUps []domain.Task, err error) {
	start := time.Now()
	kind := string(task.Kind)

	ctx = taskContext(ctx, task)
	ctx, span := tracing.StartSpan(ctx, "reconcile.task",
		attribute.String("catalog.task_kind", kind),
		attribute.String("catalog.task_id", task.ID),
		attribute.Int("catalog.items", len(task.Items)),
	)
	defer func() { tracing.EndSpan(span, err) }()

	log := logger.WithContext(ctx, p.log).With(
		zap.String("task_kind", kind),
		zap.String("task_id", task.ID),
	)

	if err := task.Validate(); err != nil {
		p.fail(log, task, err, start)
		return nil, err
	}

	tunables := p.tunables.Get()
	attempt := 0
	operation := func() ([]domain.Task, error) {
		attempt++
		attemptCtx, cancel := context.WithTimeout(obscontext.WithTask(ctx, obscontext.TaskInfo{
			ID:      task.ID,
			Kind:    kind,
			Attempt: attempt + task.Deliveries,
		}), p.cfg.TaskTimeout)
		defer cancel()

		out, err := p.handler.Handle(attemptCtx, task)
		if err != nil && isPermanent(err) {
			return nil, backoff.Permanent(err)
		}
		return out, err
	}

	followUps, err = backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(tunables.RetryDelay)),
		backoff.WithMaxTries(uint(tunables.MaxRetries)+1),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			p.metrics.IncRetry(kind, err)
			log.Warn("reconcile attempt failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("retry_in", next),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			// shutdown; the queue decides whether the task is redelivered
			return nil, err
		}
		p.fail(log.With(zap.Int("attempts", attempt)), task, err, start)
		return nil, err
	}

	span.SetAttributes(attribute.Int("catalog.attempt", attempt))
	p.metrics.ObserveTask(kind, metrics.TaskOutcomeSucceeded, time.Since(start))
	log.Debug("reconcile task done", zap.Int("attempts", attempt), zap.Int("follow_ups", len(followUps)))
	return followUps, nil
}

func (p *Processor) fail(log *zap.Logger, task domain.Task, err error, start time.Time) {
	kind := string(task.Kind)
	p.metrics.IncFailure(kind, err)
	p.metrics.ObserveTask(kind, metrics.TaskOutcomeFailed, time.Since(start))
	log.Error("reconcile task failed",
		zap.String("reason", metrics.ClassifyTaskReason(err)),
		zap.Int("items", len(task.Items)),
		zap.Error(err),
	)
}

// isPermanent reports failures that no retry can fix.
func isPermanent(err error) bool {
	return errors.Is(err, domain.ErrInvalidItem) ||
		errors.Is(err, domain.ErrTaskDecode) ||
		dbpkg.IsConstraintViolation(err)
}

// taskContext restores the identifiers the request stamped onto the task so
// task logs and spans join the originating request.
func taskContext(ctx context.Context, task domain.Task) context.Context {
	return obscontext.WithTask(task.Stamp.Apply(ctx), obscontext.TaskInfo{
		ID:      task.ID,
		Kind:    string(task.Kind),
		Attempt: task.Deliveries,
	})
}
