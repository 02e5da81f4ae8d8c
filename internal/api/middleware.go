// ABOUTME: Gin middleware for request metrics and access logging
// ABOUTME: Labels requests by matched route so unmatched paths share one series

package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kvchvn/chitchat-backend/internal/metrics"
)

// Instrument records request counts and latency per route template.
// WebSocket upgrades are counted once the connection ends.
func Instrument(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		m.HTTP(c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}

// AccessLog logs each request at debug level, and server errors at warn.
func AccessLog(logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelDebug
		if status >= 500 {
			level = slog.LevelWarn
		}
		logger.Log(c.Request.Context(), level, "request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", time.Since(start))
	}
}
