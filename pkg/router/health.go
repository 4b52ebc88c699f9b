package router

import (
	"duo-chat/backend/internal/api"

	"github.com/gin-gonic/gin"
)

// setupHealthRoutes registers health check and metrics endpoints
func (r *Router) setupHealthRoutes() {
	c := r.Container
	healthHandler := api.NewHealthHandler(c.Health, c.Registry.Count, version())

	// both paths are probed by existing deployments
	r.Engine.GET("/health", healthHandler.Health)
	r.Engine.GET("/api/health", healthHandler.Health)

	if c.Metrics != nil {
		r.Engine.GET("/metrics", gin.WrapH(c.Metrics.Handler))
	}
}
