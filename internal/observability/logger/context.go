package logger

import (
	"context"

	"github.com/smallbiznis/invoicepay/internal/auditcontext"
	"github.com/smallbiznis/invoicepay/internal/orgcontext"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type loggerKey struct{}

// IntoContext attaches log to ctx for FromContext.
func IntoContext(ctx context.Context, log *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, log)
}

// FromContext returns the logger attached to ctx, or the global logger,
// tagged with the correlation fields ctx carries.
func FromContext(ctx context.Context) *zap.Logger {
	var base *zap.Logger
	if ctx != nil {
		base, _ = ctx.Value(loggerKey{}).(*zap.Logger)
	}
	return With(ctx, base)
}

// With tags base with the request id, org, actor and trace of ctx. Values
// missing from ctx are left out.
func With(ctx context.Context, base *zap.Logger) *zap.Logger {
	if base == nil {
		base = zap.L()
	}
	if ctx == nil {
		return base
	}
	fields := Fields(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// Fields lists the correlation fields carried by ctx.
func Fields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if requestID := auditcontext.RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}
	if orgID, ok := orgcontext.OrgIDFromContext(ctx); ok {
		fields = append(fields, zap.String("org_id", orgID.String()))
	}
	if actorType, actorID := auditcontext.ActorFromContext(ctx); actorID != "" {
		fields = append(fields, zap.String("actor_type", actorType), zap.String("actor_id", actorID))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	return fields
}
