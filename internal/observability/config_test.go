package observability

import (
	"testing"

	"github.com/smallbiznis/catalog/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig(config.Config{AppName: "catalog-api", Environment: "production", AppVersion: "1.2.3"})

	assert.Equal(t, "catalog-api", cfg.ServiceName)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.False(t, cfg.OtelEnabled)
	assert.Equal(t, "/metrics", cfg.MetricsPath)
	assert.False(t, cfg.Debug())
	assert.Equal(t, "1.2.3", cfg.Tracing().ServiceVersion)
}

func TestLoadConfigCarriesTelemetry(t *testing.T) {
	cfg := LoadConfig(config.Config{
		Environment: "production",
		Telemetry: config.TelemetryConfig{
			LogLevel:      "debug",
			OTLPEnabled:   true,
			OTLPEndpoint:  "collector:4317",
			OTLPProtocol:  "grpc",
			SamplingRatio: 0.5,
		},
	})

	assert.Equal(t, "catalog", cfg.ServiceName)
	assert.True(t, cfg.Debug())
	assert.True(t, cfg.Logger().IncludeStackOnError)
	assert.Equal(t, "collector:4317", cfg.Metrics().ExporterEndpoint)
	assert.InDelta(t, 0.5, cfg.Tracing().SamplingRatio, 1e-9)
}

func TestDebugInDevelopment(t *testing.T) {
	assert.True(t, Config{Environment: "local", LogLevel: "info"}.Debug())
	assert.False(t, Config{Environment: "staging", LogLevel: "warn"}.Debug())
}
