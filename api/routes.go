package api

import (
	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailfs/api/handlers"
	"github.com/customeros/mailfs/internal/tracing"
)

// RegisterRoutes sets up the status endpoints
func RegisterRoutes(r *gin.Engine, source handlers.StatusSource, mountpoint string) {
	if source == nil {
		panic("Status source cannot be nil")
	}

	r.Use(gin.Recovery())
	r.Use(tracing.RecoveryWithJaeger(opentracing.GlobalTracer()))

	r.GET("/health", handlers.HealthCheck)
	r.GET("/status", handlers.Status(source, mountpoint))
}
