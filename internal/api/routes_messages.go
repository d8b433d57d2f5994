package api

import (
	"github.com/gin-gonic/gin"

	"github.com/opentreehole/treehole/internal/handlers"
	"github.com/opentreehole/treehole/internal/services"
)

func registerMessageRoutes(api *gin.RouterGroup, service *services.MessageService) error {
	handler, err := handlers.NewMessageHandler(service)
	if err != nil {
		return err
	}

	group := api.Group("/messages")
	{
		group.GET("", handler.List)
		group.POST("/clear", handler.Clear)
		group.GET("/:id", handler.Get)
		group.POST("/:id/read", handler.MarkRead)
		group.POST("/:id/unread", handler.MarkUnread)
	}
	return nil
}
