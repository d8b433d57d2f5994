package api

import (
	"github.com/gin-gonic/gin"

	"github.com/opentreehole/treehole/internal/handlers"
	"github.com/opentreehole/treehole/internal/monitoring"
)

func registerHealthRoutes(r *gin.Engine, manager *monitoring.HealthManager) {
	handler := handlers.NewHealthHandler(manager)

	for _, router := range []gin.IRouter{r, r.Group("/api")} {
		router.GET("/health", handler.Summary)
		router.GET("/health/live", handler.Live)
		router.GET("/health/ready", handler.Ready)
	}
}
