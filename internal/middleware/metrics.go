package middleware

import (
	"time"

	"arc/internal/logger"
	"arc/internal/metrics"

	"github.com/gin-gonic/gin"
)

/**
 * Admin API request statistics middleware
 * @description
 * - Counts requests per route template and status code
 * - Records request duration
 * - Unmatched requests are reported under "unknown"
 */
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		metrics.ObserveAPIRequest(route, c.Writer.Status(), time.Since(start))
	}
}

// AccessLog 以 Debug 级别记录每个管理请求
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugf("admin %s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path,
			c.Writer.Status(), time.Since(start).Round(time.Microsecond))
	}
}
