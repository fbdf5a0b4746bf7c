package observability

import (
	"strings"

	"github.com/smallbiznis/invoicepay/internal/config"
	"github.com/smallbiznis/invoicepay/internal/observability/logger"
	"github.com/smallbiznis/invoicepay/internal/observability/metrics"
	"github.com/smallbiznis/invoicepay/internal/observability/tracing"
)

// Config is the part of the application config the logger, tracer and meter
// are built from.
type Config struct {
	Service     string
	Environment string
	Version     string
	Log         config.LogConfig
	Telemetry   config.TelemetryConfig
}

func LoadConfig(cfg config.Config) Config {
	service := strings.TrimSpace(cfg.AppName)
	if service == "" {
		service = "invoicepay"
	}
	return Config{
		Service:     service,
		Environment: strings.TrimSpace(cfg.Environment),
		Version:     strings.TrimSpace(cfg.AppVersion),
		Log:         cfg.Log,
		Telemetry:   cfg.Telemetry,
	}
}

// Development reports a local or debug deployment: console logs, stack
// traces on warnings and gin debug mode.
func (c Config) Development() bool {
	if c.Log.Level == "debug" {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func (c Config) LoggerConfig() logger.Config {
	return logger.Config{
		Service:     c.Service,
		Environment: c.Environment,
		Version:     c.Version,
		Level:       c.Log.Level,
		Format:      c.Log.Format,
		Development: c.Development(),
	}
}

func (c Config) TracingConfig() tracing.Config {
	return tracing.Config{
		Enabled:          c.Telemetry.Enabled,
		ServiceName:      c.Service,
		ServiceVersion:   c.Version,
		Environment:      c.Environment,
		ExporterEndpoint: c.Telemetry.Endpoint,
		ExporterProtocol: c.Telemetry.Protocol,
		SamplingRatio:    c.Telemetry.SamplingRatio,
	}
}

func (c Config) MetricsConfig() metrics.Config {
	return metrics.Config{
		Enabled:          c.Telemetry.Enabled,
		ExporterEndpoint: c.Telemetry.Endpoint,
		ExporterProtocol: c.Telemetry.Protocol,
		ServiceName:      c.Service,
		Environment:      c.Environment,
	}
}
