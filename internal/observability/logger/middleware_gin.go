package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/smallbiznis/invoicepay/internal/auditcontext"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RequestIDHeader carries the request id in and out of the API.
const RequestIDHeader = "X-Request-Id"

// ErrorClassifier maps a handler error onto its kind and code for logging.
type ErrorClassifier func(err error) (kind string, code string)

// GinMiddleware assigns the request id, attaches base to the request context
// and logs one line per request after the handlers ran.
func GinMiddleware(base *zap.Logger, classify ErrorClassifier) gin.HandlerFunc {
	if base == nil {
		base = zap.L()
	}
	base = base.Named("http")

	return func(c *gin.Context) {
		start := time.Now()
		requestID := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)

		ctx := auditcontext.WithRequestID(c.Request.Context(), requestID)
		ctx = auditcontext.WithIPAddress(ctx, c.ClientIP())
		ctx = auditcontext.WithUserAgent(ctx, c.Request.UserAgent())
		c.Request = c.Request.WithContext(IntoContext(ctx, base))

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
		}
		for _, param := range []string{"provider", "id"} {
			if value := c.Param(param); value != "" {
				fields = append(fields, zap.String(param, value))
			}
		}
		if last := c.Errors.Last(); last != nil && classify != nil {
			kind, code := classify(last.Err)
			fields = append(fields, zap.String("error_kind", kind), zap.String("error_code", code))
		}

		// org and actor are attached by later middleware, so read the final request context
		if ce := FromContext(c.Request.Context()).Check(requestLevel(route, status), "request completed"); ce != nil {
			ce.Write(fields...)
		}
	}
}

func requestLevel(route string, status int) zapcore.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case status >= http.StatusBadRequest:
		return zapcore.WarnLevel
	case route == "/health" || route == "/metrics":
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}
