package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-ID"

// RequestLogger tags every request with an ID and emits one access line per
// request in the same event-keyed shape the service audit log uses. Health
// probes are not logged.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.Request.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Writer.Header().Set(requestIDHeader, requestID)

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "/health" {
			return
		}
		if route == "" {
			route = c.Request.URL.Path
		}

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("event", "http.request"),
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.Int("bytes", c.Writer.Size()),
			zap.String("client_ip", c.ClientIP()),
		}
		if err := c.Errors.Last(); err != nil {
			fields = append(fields, zap.String("error", err.Error()))
		}

		log := logger
		if log == nil {
			log = zap.L()
		}
		switch {
		case status >= 500:
			log.Error("audit", fields...)
		case status >= 400:
			log.Warn("audit", fields...)
		default:
			log.Info("audit", fields...)
		}
	}
}
