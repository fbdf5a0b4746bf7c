package observability

import (
	"github.com/smallbiznis/invoicepay/internal/observability/logger"
	"github.com/smallbiznis/invoicepay/internal/observability/metrics"
	"github.com/smallbiznis/invoicepay/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		Config.LoggerConfig,
		Config.TracingConfig,
		Config.MetricsConfig,
		logger.New,
		tracing.NewProvider,
		metrics.NewProvider,
		metrics.New,
		metrics.NewHTTPMetrics,
	),
	// the tracer provider and lock metrics are only reached through globals
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
	fx.Invoke(func(cfg metrics.Config) { metrics.LocksWithConfig(cfg) }),
)
