package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/catalog/internal/catalog/domain"
	"gorm.io/gorm"
)

const (
	TaskReasonDeadlineExceeded     = "deadline_exceeded"
	TaskReasonInvalidItem          = "invalid_item"
	TaskReasonConflict             = "conflict"
	TaskReasonUpstreamUnavailable  = "upstream_unavailable"
	TaskReasonDBLockTimeout        = "db_lock_timeout"
	TaskReasonSerializationFailure = "serialization_failure"
	TaskReasonUniqueViolation      = "unique_violation"
	TaskReasonDecode               = "decode"
	TaskReasonUnknown              = "unknown"
)

const (
	TaskOutcomeSucceeded    = "succeeded"
	TaskOutcomeFailed       = "failed"
	TaskOutcomeDeadLettered = "dead_lettered"
)

// ReconcileMetrics tracks background reconciliation health.
type ReconcileMetrics struct {
	taskRuns      *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	taskRetries   *prometheus.CounterVec
	taskFailures  *prometheus.CounterVec
	itemsUpserted *prometheus.CounterVec
	queueDepth    prometheus.Gauge
	refreshSkips  prometheus.Counter
	runLoopLag    prometheus.Observer
}

var (
	reconcileMetricsOnce sync.Once
	reconcileMetrics     *ReconcileMetrics
)

// Reconcile returns the singleton reconcile metrics registry.
func Reconcile() *ReconcileMetrics {
	return ReconcileWithConfig(Config{})
}

// ReconcileWithConfig returns the singleton registry using config labels.
func ReconcileWithConfig(cfg Config) *ReconcileMetrics {
	reconcileMetricsOnce.Do(func() {
		reconcileMetrics = NewReconcileMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return reconcileMetrics
}

// NewReconcileMetrics registers a fresh set of collectors on registerer.
func NewReconcileMetrics(registerer prometheus.Registerer, cfg Config) *ReconcileMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	constLabels := constLabelsFor(cfg)

	taskRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "catalog_reconcile_task_runs_total",
		Help:        "Reconcile task completions by kind and outcome.",
		ConstLabels: constLabels,
	}, []string{"kind", "outcome"})
	taskDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "catalog_reconcile_task_duration_seconds",
		Help:        "Reconcile task latency across all attempts.",
		Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		ConstLabels: constLabels,
	}, []string{"kind"})
	taskRetries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "catalog_reconcile_task_retries_total",
		Help:        "Reconcile task attempts that failed and were retried.",
		ConstLabels: constLabels,
	}, []string{"kind", "reason"})
	taskFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "catalog_reconcile_task_failures_total",
		Help:        "Reconcile tasks dropped after a permanent error or exhausted retries.",
		ConstLabels: constLabels,
	}, []string{"kind", "reason"})
	itemsUpserted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "catalog_reconcile_items_total",
		Help:        "Items written back to the system of record by result.",
		ConstLabels: constLabels,
	}, []string{"result"})
	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "catalog_reconcile_queue_depth",
		Help:        "Tasks buffered in the in-process queue.",
		ConstLabels: constLabels,
	})
	refreshSkips := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "catalog_reconcile_refresh_coalesced_total",
		Help:        "Refresh tasks skipped because another replica held the refresh lock.",
		ConstLabels: constLabels,
	})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "catalog_reconcile_refresher_lag_seconds",
		Help:        "Refresher run loop lag beyond the configured interval.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		ConstLabels: constLabels,
	})

	registerer.MustRegister(
		taskRuns,
		taskDuration,
		taskRetries,
		taskFailures,
		itemsUpserted,
		queueDepth,
		refreshSkips,
		runLoopLag,
	)

	return &ReconcileMetrics{
		taskRuns:      taskRuns,
		taskDuration:  taskDuration,
		taskRetries:   taskRetries,
		taskFailures:  taskFailures,
		itemsUpserted: itemsUpserted,
		queueDepth:    queueDepth,
		refreshSkips:  refreshSkips,
		runLoopLag:    runLoopLag,
	}
}

func constLabelsFor(cfg Config) prometheus.Labels {
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "catalog"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	return prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}
}

// ObserveTask records the final outcome and latency of a task.
func (m *ReconcileMetrics) ObserveTask(kind, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.taskRuns.WithLabelValues(kind, outcome).Inc()
	m.taskDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func (m *ReconcileMetrics) IncRetry(kind string, err error) {
	if m == nil || err == nil {
		return
	}
	m.taskRetries.WithLabelValues(kind, ClassifyTaskReason(err)).Inc()
}

func (m *ReconcileMetrics) IncFailure(kind string, err error) {
	if m == nil || err == nil {
		return
	}
	m.taskFailures.WithLabelValues(kind, ClassifyTaskReason(err)).Inc()
}

// AddItems counts upsert results ("written" or "stale").
func (m *ReconcileMetrics) AddItems(result string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.itemsUpserted.WithLabelValues(result).Add(float64(count))
}

func (m *ReconcileMetrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

func (m *ReconcileMetrics) IncRefreshCoalesced() {
	if m == nil {
		return
	}
	m.refreshSkips.Inc()
}

// ObserveRunLoopLag records lag between the scheduled tick and actual run start.
func (m *ReconcileMetrics) ObserveRunLoopLag(lag time.Duration) {
	if m == nil {
		return
	}
	m.runLoopLag.Observe(max(lag, 0).Seconds())
}

// ClassifyTaskReason maps task errors to low-cardinality reasons.
func ClassifyTaskReason(err error) string {
	switch {
	case err == nil:
		return TaskReasonUnknown
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return TaskReasonDeadlineExceeded
	case errors.Is(err, domain.ErrInvalidItem):
		return TaskReasonInvalidItem
	case errors.Is(err, domain.ErrConflict):
		return TaskReasonConflict
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		return TaskReasonUpstreamUnavailable
	case errors.Is(err, domain.ErrTaskDecode):
		return TaskReasonDecode
	case hasPGCode(err, "55P03"):
		return TaskReasonDBLockTimeout
	case hasPGCode(err, "40001"):
		return TaskReasonSerializationFailure
	case errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505"):
		return TaskReasonUniqueViolation
	default:
		return TaskReasonUnknown
	}
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
