package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/customeros/mailfs/internal/models"
	"github.com/customeros/mailfs/internal/tracing"
)

// StatusSource reports a point in time view of the cache.
type StatusSource interface {
	Snapshot() models.Snapshot
}

// HealthCheck returns a simple health check response
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// Status returns the cache counters and the selected mailbox
func Status(source StatusSource, mountpoint string) gin.HandlerFunc {
	return func(c *gin.Context) {
		span, _ := tracing.StartTracerSpan(c.Request.Context(), "Status")
		defer span.Finish()
		tracing.TagComponentRest(span)

		c.JSON(http.StatusOK, gin.H{
			"mountpoint": mountpoint,
			"cache":      source.Snapshot(),
		})
	}
}
