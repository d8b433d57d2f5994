package api

import (
	"github.com/gin-gonic/gin"

	"github.com/opentreehole/treehole/internal/handlers"
	"github.com/opentreehole/treehole/internal/middleware"
	"github.com/opentreehole/treehole/internal/realtime"
)

func registerFlowRoutes(api *gin.RouterGroup, publisher realtime.Publisher) error {
	handler, err := handlers.NewFlowHandler(publisher)
	if err != nil {
		return err
	}

	api.POST("/flows/:id/status", middleware.RequireAdmin(), handler.PublishStatus)
	return nil
}
