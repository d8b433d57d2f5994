package api

import (
	"github.com/gin-gonic/gin"

	"github.com/opentreehole/treehole/internal/handlers"
	"github.com/opentreehole/treehole/internal/services"
)

func registerPushTokenRoutes(api *gin.RouterGroup, service *services.PushTokenService) error {
	handler, err := handlers.NewPushTokenHandler(service)
	if err != nil {
		return err
	}

	group := api.Group("/users/push-tokens")
	{
		group.GET("", handler.List)
		group.PUT("", handler.Upsert)
		group.DELETE("", handler.Delete)
	}
	return nil
}
