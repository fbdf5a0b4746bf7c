package observability

import (
	"testing"

	"github.com/smallbiznis/invoicepay/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDerivesComponentConfigs(t *testing.T) {
	cfg := LoadConfig(config.Config{
		AppVersion:  "1.4.0",
		Environment: "production",
		Log:         config.LogConfig{Level: "info", Format: "json"},
		Telemetry: config.TelemetryConfig{
			Enabled:       true,
			Endpoint:      "collector:4317",
			Protocol:      "grpc",
			SamplingRatio: 0.25,
		},
	})

	assert.Equal(t, "invoicepay", cfg.Service)
	assert.False(t, cfg.Development())
	assert.Equal(t, "json", cfg.LoggerConfig().Format)
	assert.False(t, cfg.LoggerConfig().Development)

	tracingCfg := cfg.TracingConfig()
	assert.Equal(t, "collector:4317", tracingCfg.ExporterEndpoint)
	assert.Equal(t, 0.25, tracingCfg.SamplingRatio)
	assert.Equal(t, "1.4.0", tracingCfg.ServiceVersion)
	assert.Equal(t, "production", cfg.MetricsConfig().Environment)
}

func TestDevelopment(t *testing.T) {
	assert.True(t, Config{Environment: "Local"}.Development())
	assert.True(t, Config{Environment: "production", Log: config.LogConfig{Level: "debug"}}.Development())
	assert.False(t, Config{Environment: "staging"}.Development())
}
