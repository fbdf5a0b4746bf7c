package logger

import (
	"context"
	"testing"

	"github.com/smallbiznis/invoicepay/internal/auditcontext"
	"github.com/smallbiznis/invoicepay/internal/orgcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestBuildConfig(t *testing.T) {
	cfg, err := buildConfig(Config{})
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Encoding)
	assert.Equal(t, zapcore.InfoLevel, cfg.Level.Level())

	cfg, err = buildConfig(Config{Development: true, Level: "warn", Format: "JSON"})
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Encoding)
	assert.Equal(t, zapcore.WarnLevel, cfg.Level.Level())
	assert.True(t, cfg.Development)

	_, err = buildConfig(Config{Level: "loud"})
	require.Error(t, err)
	_, err = buildConfig(Config{Format: "xml"})
	require.Error(t, err)
}

func TestWithTagsCorrelationFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	ctx := orgcontext.WithOrgID(context.Background(), 77)
	ctx = auditcontext.WithActor(ctx, auditcontext.ActorTypeUser, "user_9")
	ctx = auditcontext.WithRequestID(ctx, "req-1")
	With(ctx, base).Info("payment recorded")

	With(context.Background(), base).Info("no request")

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)
	assert.Equal(t, map[string]interface{}{
		"request_id": "req-1",
		"org_id":     "77",
		"actor_type": auditcontext.ActorTypeUser,
		"actor_id":   "user_9",
	}, entries[0].ContextMap())
	assert.Empty(t, entries[1].ContextMap())
}

func TestFromContextPrefersAttachedLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ctx := IntoContext(context.Background(), zap.New(core).Named("http"))
	ctx = auditcontext.WithRequestID(ctx, "req-2")

	FromContext(ctx).Info("request completed")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "http", entries[0].LoggerName)
	assert.Equal(t, "req-2", entries[0].ContextMap()["request_id"])
}
