package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opentreehole/treehole/internal/middleware"
	"github.com/opentreehole/treehole/internal/services"
	appErrors "github.com/opentreehole/treehole/pkg/errors"
	"github.com/opentreehole/treehole/pkg/response"
)

// MessageHandler exposes a user's notification inbox over HTTP.
type MessageHandler struct {
	service *services.MessageService
}

// NewMessageHandler constructs a message handler.
func NewMessageHandler(service *services.MessageService) (*MessageHandler, error) {
	if service == nil {
		return nil, errors.New("message handler: service is required")
	}
	return &MessageHandler{service: service}, nil
}

// List returns the caller's messages, newest first. not_read=true restricts
// the result to unread messages.
func (h *MessageHandler) List(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	limit := parseIntQuery(c, "limit", 0)
	offset := parseIntQuery(c, "offset", 0)

	items, err := h.service.List(requestContext(c), services.ListMessagesInput{
		UserID:     userID,
		UnreadOnly: parseBoolQuery(c, "not_read"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, items, &response.Meta{
		Limit:  limit,
		Offset: offset,
		Count:  len(items),
	})
}

// Get returns one of the caller's messages.
func (h *MessageHandler) Get(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	dto, err := h.service.Get(requestContext(c), userID, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, dto)
}

// MarkRead flags a message as read.
func (h *MessageHandler) MarkRead(c *gin.Context) {
	h.updateReadState(c, true)
}

// MarkUnread flags a message as unread.
func (h *MessageHandler) MarkUnread(c *gin.Context) {
	h.updateReadState(c, false)
}

func (h *MessageHandler) updateReadState(c *gin.Context, read bool) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var (
		dto *services.MessageDTO
		err error
	)
	if read {
		dto, err = h.service.MarkRead(requestContext(c), userID, id)
	} else {
		dto, err = h.service.MarkUnread(requestContext(c), userID, id)
	}
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, dto)
}

// Clear marks every message of the caller as read.
func (h *MessageHandler) Clear(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	updated, err := h.service.MarkAllRead(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"updated": updated})
}
