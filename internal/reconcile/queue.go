package reconcile

import (
	"context"
	"errors"

	"github.com/smallbiznis/catalog/internal/catalog/domain"
	"github.com/smallbiznis/catalog/internal/observability/logger"
	"go.uber.org/zap"
)

var (
	ErrQueueFull   = errors.New("reconcile_queue_full")
	ErrQueueClosed = errors.New("reconcile_queue_closed")
)

// Queue carries tasks from the read path to the worker pool.
type Queue interface {
	domain.TaskScheduler
	// Run consumes tasks with process until ctx is cancelled.
	Run(ctx context.Context, process ProcessFunc) error
	Close() error
}

// deadLetterFunc records a task that will never succeed.
type deadLetterFunc func(ctx context.Context, task domain.Task, cause error) error

// dispatch runs one delivery. It reports false when the delivery was cut
// short by shutdown and must not be acknowledged.
func dispatch(
	ctx context.Context,
	q domain.TaskScheduler,
	process ProcessFunc,
	task domain.Task,
	deadLetter deadLetterFunc,
	log *zap.Logger,
) bool {
	followUps, err := process(ctx, task)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		if deadLetter != nil {
			if dlqErr := deadLetter(context.WithoutCancel(ctx), task, err); dlqErr != nil {
				logger.WithContext(ctx, log).Error("dead letter write failed",
					zap.String("task_id", task.ID),
					zap.Error(dlqErr),
				)
			}
		}
		return true
	}

	for _, next := range followUps {
		if err := q.Schedule(ctx, next); err != nil {
			logger.WithContext(ctx, log).Warn("schedule follow-up task failed",
				zap.String("task_kind", string(next.Kind)),
				zap.String("parent_task_id", task.ID),
				zap.Error(err),
			)
		}
	}
	return true
}
