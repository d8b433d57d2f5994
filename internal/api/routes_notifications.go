package api

import (
	"github.com/gin-gonic/gin"

	"github.com/opentreehole/treehole/internal/handlers"
	"github.com/opentreehole/treehole/internal/middleware"
	"github.com/opentreehole/treehole/internal/notifications"
)

func registerNotificationRoutes(api *gin.RouterGroup, notifier notifications.BatchNotifier) error {
	handler, err := handlers.NewNotificationHandler(notifier)
	if err != nil {
		return err
	}

	api.POST("/notifications", middleware.RequireAdmin(), handler.Send)
	return nil
}
