package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/catalog/internal/catalog/domain"
	"github.com/smallbiznis/catalog/internal/observability/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	streamField     = "data"
	deadLetterLimit = 10000
	claimBatch      = 50
)

// StreamQueue delivers tasks through a Redis Streams consumer group. Entries
// are acknowledged after processing, so delivery is at least once; entries
// left pending by a dead consumer are claimed after ClaimMinIdle.
type StreamQueue struct {
	client  redis.UniversalClient
	cfg     Config
	log     *zap.Logger
	metrics *metrics.ReconcileMetrics
}

func NewStreamQueue(client redis.UniversalClient, cfg Config, log *zap.Logger, m *metrics.ReconcileMetrics) (*StreamQueue, error) {
	if client == nil {
		return nil, errors.New("redis stream queue requires REDIS_ADDR")
	}
	return &StreamQueue{
		client:  client,
		cfg:     cfg.withDefaults(),
		log:     log.Named("reconcile.stream"),
		metrics: m,
	}, nil
}

func (q *StreamQueue) Schedule(ctx context.Context, task domain.Task) error {
	payload, err := domain.EncodeTask(task)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, q.cfg.ScheduleTimeout)
	defer cancel()
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.cfg.Stream,
		MaxLen: q.cfg.StreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			streamField: string(payload),
			"kind":      string(task.Kind),
		},
	}).Err()
}

func (q *StreamQueue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.cfg.Stream, q.cfg.ConsumerGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

func (q *StreamQueue) Run(ctx context.Context, process ProcessFunc) error {
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < q.cfg.Workers; i++ {
		consumer := fmt.Sprintf("%s-%d", q.cfg.ConsumerName, i)
		g.Go(func() error {
			q.consume(ctx, consumer, process)
			return nil
		})
	}
	g.Go(func() error {
		q.reclaimLoop(ctx, fmt.Sprintf("%s-0", q.cfg.ConsumerName), process)
		return nil
	})
	return g.Wait()
}

func (q *StreamQueue) consume(ctx context.Context, consumer string, process ProcessFunc) {
	for {
		if ctx.Err() != nil {
			return
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.cfg.ConsumerGroup,
			Consumer: consumer,
			Streams:  []string{q.cfg.Stream, ">"},
			Count:    1,
			Block:    q.cfg.ReadBlock,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			q.log.Warn("read reconcile stream failed", zap.Error(err))
			if !sleepCtx(ctx, q.cfg.ReadBlock) {
				return
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handle(ctx, msg, 0, process)
			}
		}
	}
}

// ProcessPending claims idle entries once. Exposed for the worker binary's
// startup path and tests.
func (q *StreamQueue) ProcessPending(ctx context.Context, consumer string, process ProcessFunc) (int, error) {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.cfg.Stream,
		Group:  q.cfg.ConsumerGroup,
		Idle:   q.cfg.ClaimMinIdle,
		Start:  "-",
		End:    "+",
		Count:  claimBatch,
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(pending))
	deliveries := make(map[string]int64, len(pending))
	for _, p := range pending {
		ids = append(ids, p.ID)
		deliveries[p.ID] = p.RetryCount
	}

	claimed, err := q.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   q.cfg.Stream,
		Group:    q.cfg.ConsumerGroup,
		Consumer: consumer,
		MinIdle:  q.cfg.ClaimMinIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return 0, err
	}

	for _, msg := range claimed {
		q.handle(ctx, msg, int(deliveries[msg.ID]), process)
	}
	return len(claimed), nil
}

func (q *StreamQueue) reclaimLoop(ctx context.Context, consumer string, process ProcessFunc) {
	ticker := time.NewTicker(max(q.cfg.ClaimMinIdle/2, time.Second))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		n, err := q.ProcessPending(ctx, consumer, process)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			q.log.Warn("reclaim pending reconcile entries failed", zap.Error(err))
			continue
		}
		if n > 0 {
			q.log.Info("reclaimed pending reconcile entries", zap.Int("count", n))
		}
	}
}

func (q *StreamQueue) handle(ctx context.Context, msg redis.XMessage, deliveries int, process ProcessFunc) {
	raw, _ := msg.Values[streamField].(string)
	task, err := domain.DecodeTask([]byte(raw))
	if err != nil {
		q.log.Error("undecodable reconcile entry", zap.String("entry_id", msg.ID), zap.Error(err))
		q.metrics.IncFailure("unknown", err)
		if dlqErr := q.deadLetterRaw(ctx, raw, "", err); dlqErr != nil {
			q.log.Error("dead letter write failed", zap.String("entry_id", msg.ID), zap.Error(dlqErr))
		}
		q.ack(ctx, msg.ID)
		return
	}
	task.Deliveries = deliveries

	if !dispatch(ctx, q, process, task, q.deadLetter, q.log) {
		return
	}
	q.ack(ctx, msg.ID)
}

func (q *StreamQueue) ack(ctx context.Context, id string) {
	if err := q.client.XAck(context.WithoutCancel(ctx), q.cfg.Stream, q.cfg.ConsumerGroup, id).Err(); err != nil {
		q.log.Warn("ack reconcile entry failed", zap.String("entry_id", id), zap.Error(err))
	}
}

func (q *StreamQueue) deadLetter(ctx context.Context, task domain.Task, cause error) error {
	payload, err := domain.EncodeTask(task)
	if err != nil {
		return err
	}
	return q.deadLetterRaw(ctx, string(payload), string(task.Kind), cause)
}

func (q *StreamQueue) deadLetterRaw(ctx context.Context, payload, kind string, cause error) error {
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.cfg.DeadLetterStream,
		MaxLen: deadLetterLimit,
		Approx: true,
		Values: map[string]interface{}{
			streamField: payload,
			"kind":      kind,
			"reason":    metrics.ClassifyTaskReason(cause),
			"error":     cause.Error(),
			"failed_at": time.Now().UTC().Format(time.RFC3339Nano),
		},
	}).Err()
}

func (q *StreamQueue) Close() error {
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
