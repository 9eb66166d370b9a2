package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dhawalhost/scimbridge/pkg/observability"
)

// Metrics returns a Gin middleware that records Prometheus metrics for HTTP
// requests. Requests are labelled by route template; unmatched requests share
// the "unmatched" label.
func Metrics(metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		code := strconv.Itoa(c.Writer.Status())
		metrics.RequestsTotal.WithLabelValues(code, c.Request.Method, route).Inc()
		metrics.RequestDuration.WithLabelValues(code, c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
