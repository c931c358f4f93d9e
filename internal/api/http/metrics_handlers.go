package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const defaultTraceLimit = 50

// MetricsSummary returns running syscall, transfer and request totals.
func (h *Handlers) MetricsSummary(c *gin.Context) {
	if h.metrics == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   "metrics disabled",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"metrics": h.metrics.GetSnapshot(),
	})
}

// Traces returns the most recent spans, newest first. ?limit=n bounds the
// count.
func (h *Handlers) Traces(c *gin.Context) {
	if h.tracer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   "tracing disabled",
		})
		return
	}

	limit := defaultTraceLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "limit must be a positive integer",
			})
			return
		}
		limit = n
	}

	spans := h.tracer.Recent(limit)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"spans":   spans,
		"count":   len(spans),
	})
}
