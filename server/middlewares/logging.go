package middlewares

import (
	"time"

	"github.com/chatbridge/chatbridge/server/otel"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// LoggingMiddleware logs one line per request with method, path, status and
// duration, and records the duration as a telemetry histogram. Health check
// requests can be suppressed to keep probe noise out of the logs; they are
// still measured.
func LoggingMiddleware(logger *zap.Logger, telemetry otel.OpenTelemetry, disableHealthcheckLog bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		duration := time.Since(start)
		telemetry.RecordRequestDuration(c.Request.Context(),
			c.Request.Method, c.FullPath(), c.Writer.Status(),
			float64(duration.Milliseconds()))

		if disableHealthcheckLog && path == "/health" {
			return
		}

		logger.Info("request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", duration),
			zap.String("client_ip", c.ClientIP()))
	}
}
