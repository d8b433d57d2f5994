package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/opentreehole/treehole/internal/middleware"
	"github.com/opentreehole/treehole/internal/notifications"
	"github.com/opentreehole/treehole/internal/realtime"
)

// RealtimeHandler upgrades HTTP connections into notification sockets.
type RealtimeHandler struct {
	hub      *realtime.Hub
	messages notifications.MessageReader
}

// NewRealtimeHandler constructs a realtime handler.
func NewRealtimeHandler(hub *realtime.Hub, messages notifications.MessageReader) (*RealtimeHandler, error) {
	if hub == nil {
		return nil, errors.New("realtime handler: hub is required")
	}
	if messages == nil {
		return nil, errors.New("realtime handler: message reader is required")
	}
	return &RealtimeHandler{hub: hub, messages: messages}, nil
}

// Stream serves an authenticated inbox socket when the request carries
// claims, and an anonymous flow socket otherwise. Anonymous clients may
// propose their correlation id through the uuid query parameter.
func (h *RealtimeHandler) Stream(c *gin.Context) {
	var session realtime.Session
	if claims, ok := middleware.ClaimsFromContext(c); ok {
		session = notifications.NewSession(claims.UserID, h.messages)
	} else {
		session = notifications.NewFlowSession(c.Query("uuid"))
	}

	h.hub.Serve(c.Writer, c.Request, session)
}
