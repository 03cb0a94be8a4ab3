package middlewares

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"fxstream/internal/metrics"
)

func PrometheusMetrics(c *gin.Context) {
	if c.Request.URL.Path == "/metrics" {
		c.Next()
		return
	}

	start := time.Now()
	c.Next()

	status := strconv.Itoa(c.Writer.Status())
	path := c.FullPath()
	if path == "" {
		path = "unknown"
	}
	metrics.HTTPRequests.WithLabelValues(c.Request.Method, path, status).Inc()
	metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
}
