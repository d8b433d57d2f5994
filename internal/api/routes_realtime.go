package api

import (
	"github.com/gin-gonic/gin"

	"github.com/opentreehole/treehole/internal/handlers"
	"github.com/opentreehole/treehole/internal/middleware"
)

func registerRealtimeRoutes(r *gin.Engine, deps Dependencies) error {
	handler, err := handlers.NewRealtimeHandler(deps.Hub, deps.Messages)
	if err != nil {
		return err
	}

	optionalAuth := middleware.OptionalAuth(deps.JWT)
	r.GET("/ws", optionalAuth, handler.Stream)
	r.GET("/ws/notifications", optionalAuth, handler.Stream)
	return nil
}
