package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/smallbiznis/catalog/internal/catalog/domain"
	"github.com/smallbiznis/catalog/internal/observability/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	headerKind          = "catalog-task-kind"
	headerCorrelationID = "x-correlation-id"
	headerReason        = "catalog-failure-reason"
	headerError         = "catalog-failure-error"
)

// KafkaQueue publishes tasks to a topic and consumes them with a reader
// group. Offsets are committed after a task is processed.
type KafkaQueue struct {
	cfg        Config
	writer     *kafka.Writer
	deadLetter *kafka.Writer
	log        *zap.Logger
	metrics    *metrics.ReconcileMetrics
}

func NewKafkaQueue(cfg Config, log *zap.Logger, m *metrics.ReconcileMetrics) (*KafkaQueue, error) {
	cfg = cfg.withDefaults()
	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("kafka queue requires RECONCILE_KAFKA_BROKERS")
	}
	log = log.Named("reconcile.kafka")

	return &KafkaQueue{
		cfg: cfg,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.KafkaBrokers...),
			Topic:                  cfg.KafkaTopic,
			Balancer:               &kafka.Hash{},
			BatchTimeout:           10 * time.Millisecond,
			RequiredAcks:           kafka.RequireOne,
			Async:                  true,
			AllowAutoTopicCreation: true,
			Completion: func(messages []kafka.Message, err error) {
				if err != nil {
					log.Warn("publish reconcile tasks failed", zap.Int("count", len(messages)), zap.Error(err))
				}
			},
		},
		deadLetter: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.KafkaBrokers...),
			Topic:                  cfg.KafkaDeadLetter,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		log:     log,
		metrics: m,
	}, nil
}

// Schedule hands the task to the async writer and returns immediately.
func (q *KafkaQueue) Schedule(ctx context.Context, task domain.Task) error {
	msg, err := taskMessage(task)
	if err != nil {
		return err
	}
	return q.writer.WriteMessages(ctx, msg)
}

func (q *KafkaQueue) Run(ctx context.Context, process ProcessFunc) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < q.cfg.Workers; i++ {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:     q.cfg.KafkaBrokers,
			Topic:       q.cfg.KafkaTopic,
			GroupID:     q.cfg.KafkaGroupID,
			MinBytes:    1,
			MaxBytes:    10e6,
			MaxWait:     q.cfg.ReadBlock,
			StartOffset: kafka.FirstOffset,
		})
		g.Go(func() error {
			defer reader.Close()
			q.consume(ctx, reader, process)
			return nil
		})
	}
	return g.Wait()
}

func (q *KafkaQueue) consume(ctx context.Context, reader *kafka.Reader, process ProcessFunc) {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			q.log.Warn("fetch reconcile message failed", zap.Error(err))
			if !sleepCtx(ctx, time.Second) {
				return
			}
			continue
		}

		task, err := taskFromMessage(msg)
		if err != nil {
			q.log.Error("undecodable reconcile message",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			q.metrics.IncFailure("unknown", err)
			if dlqErr := q.writeDeadLetter(ctx, msg.Key, msg.Value, "", err); dlqErr != nil {
				q.log.Error("dead letter write failed", zap.Error(dlqErr))
			}
		} else if !dispatch(ctx, q, process, task, q.sendDeadLetter, q.log) {
			return
		}

		if err := reader.CommitMessages(context.WithoutCancel(ctx), msg); err != nil {
			q.log.Warn("commit reconcile message failed", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

func (q *KafkaQueue) sendDeadLetter(ctx context.Context, task domain.Task, cause error) error {
	msg, err := taskMessage(task)
	if err != nil {
		return err
	}
	return q.writeDeadLetter(ctx, msg.Key, msg.Value, string(task.Kind), cause)
}

func (q *KafkaQueue) writeDeadLetter(ctx context.Context, key, value []byte, kind string, cause error) error {
	return q.deadLetter.WriteMessages(ctx, kafka.Message{
		Key:   key,
		Value: value,
		Headers: []kafka.Header{
			{Key: headerKind, Value: []byte(kind)},
			{Key: headerReason, Value: []byte(metrics.ClassifyTaskReason(cause))},
			{Key: headerError, Value: []byte(cause.Error())},
		},
		Time: time.Now().UTC(),
	})
}

func (q *KafkaQueue) Close() error {
	return errors.Join(q.writer.Close(), q.deadLetter.Close())
}

func taskMessage(task domain.Task) (kafka.Message, error) {
	payload, err := domain.EncodeTask(task)
	if err != nil {
		return kafka.Message{}, err
	}
	headers := []kafka.Header{{Key: headerKind, Value: []byte(task.Kind)}}
	if task.CorrelationID != "" {
		headers = append(headers, kafka.Header{Key: headerCorrelationID, Value: []byte(task.CorrelationID)})
	}
	return kafka.Message{
		Key:     []byte(task.ID),
		Value:   payload,
		Headers: headers,
		Time:    task.EnqueuedAt,
	}, nil
}

func taskFromMessage(msg kafka.Message) (domain.Task, error) {
	return domain.DecodeTask(msg.Value)
}
