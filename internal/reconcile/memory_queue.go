package reconcile

import (
	"context"
	"sync"

	"github.com/smallbiznis/catalog/internal/catalog/domain"
	"github.com/smallbiznis/catalog/internal/observability/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MemoryQueue is a bounded in-process queue. Tasks still buffered at
// shutdown are lost; the next read schedules them again.
type MemoryQueue struct {
	tasks   chan domain.Task
	workers int
	log     *zap.Logger
	metrics *metrics.ReconcileMetrics

	mu     sync.RWMutex
	closed bool
}

func NewMemoryQueue(cfg Config, log *zap.Logger, m *metrics.ReconcileMetrics) *MemoryQueue {
	cfg = cfg.withDefaults()
	return &MemoryQueue{
		tasks:   make(chan domain.Task, cfg.QueueSize),
		workers: cfg.Workers,
		log:     log.Named("reconcile.memory"),
		metrics: m,
	}
}

// Schedule never blocks; a full buffer returns ErrQueueFull.
func (q *MemoryQueue) Schedule(_ context.Context, task domain.Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.tasks <- task:
		q.metrics.SetQueueDepth(len(q.tasks))
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Run(ctx context.Context, process ProcessFunc) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < q.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case task, ok := <-q.tasks:
					if !ok {
						return nil
					}
					q.metrics.SetQueueDepth(len(q.tasks))
					dispatch(ctx, q, process, task, nil, q.log)
				}
			}
		})
	}
	return g.Wait()
}

func (q *MemoryQueue) Len() int {
	return len(q.tasks)
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	return nil
}
