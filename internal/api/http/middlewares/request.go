package middlewares

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// RequestLogger logs every request: method, path, status, latency, client IP.
func RequestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery
		clientIP := c.ClientIP()
		method := c.Request.Method

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}
		log.Info("request",
			"method", method,
			"path", path,
			"status", c.Writer.Status(),
			"ip", clientIP,
			"latency_ms", time.Since(start).Milliseconds(),
		)
	}
}
