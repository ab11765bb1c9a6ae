package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes cascade instruments for the read path.
type Metrics struct {
	cacheLookups     metric.Int64Counter
	upstreamFailures metric.Int64Counter
	fallbackReads    metric.Int64Counter
	tasksScheduled   metric.Int64Counter
}

// NewProvider installs the global meter provider. Without an exporter the
// provider is a no-op so instruments stay cheap.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(exportInterval))),
		sdkmetric.WithResource(resource.NewSchemaless(
			attribute.String("service.name", serviceName(cfg)),
			attribute.String("deployment.environment", cfg.Environment),
		)),
	)
	otel.SetMeterProvider(provider)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info("flushing catalog metrics")
			return provider.Shutdown(ctx)
		},
	})
	log.Info("otlp metrics export enabled",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)
	return provider, nil
}

const exportInterval = 10 * time.Second

func serviceName(cfg Config) string {
	if name := strings.TrimSpace(cfg.ServiceName); name != "" {
		return name
	}
	return "catalog"
}

// New creates the read-path instruments on the given provider.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(serviceName(cfg))

	m := &Metrics{}
	instruments := []struct {
		target *metric.Int64Counter
		name   string
		desc   string
	}{
		{&m.cacheLookups, "catalog_cache_lookups_total", "Cache lookups by operation and hit or miss."},
		{&m.upstreamFailures, "catalog_upstream_failures_total", "Failed upstream fetches by reason."},
		{&m.fallbackReads, "catalog_fallback_reads_total", "Reads served from the system of record."},
		{&m.tasksScheduled, "catalog_tasks_scheduled_total", "Reconciliation tasks handed to the queue."},
	}
	for _, inst := range instruments {
		counter, err := meter.Int64Counter(inst.name, metric.WithDescription(inst.desc))
		if err != nil {
			return nil, fmt.Errorf("instrument %s: %w", inst.name, err)
		}
		*inst.target = counter
	}
	return m, nil
}

// RecordCacheLookup counts a cache lookup for op ("list" or "get").
func (m *Metrics) RecordCacheLookup(ctx context.Context, op string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	attrs := FilterAttributes(
		attribute.String("op", op),
		attribute.String("result", result),
	)
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordUpstreamFailure(ctx context.Context, op, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("op", op),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.upstreamFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordFallbackRead(ctx context.Context, op, result string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("op", op),
		attribute.String("result", result),
	)
	m.fallbackReads.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordTaskScheduled counts enqueue attempts; result is "ok" or "error".
func (m *Metrics) RecordTaskScheduled(ctx context.Context, kind, result string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("task_kind", kind),
		attribute.String("result", result),
	)
	m.tasksScheduled.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"op":          {},
	"result":      {},
	"reason":      {},
	"task_kind":   {},
	"status_code": {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
