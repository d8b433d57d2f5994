package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/opentreehole/treehole/internal/middleware"
	"github.com/opentreehole/treehole/internal/models"
	"github.com/opentreehole/treehole/internal/services"
	appErrors "github.com/opentreehole/treehole/pkg/errors"
	"github.com/opentreehole/treehole/pkg/response"
)

// PushTokenHandler manages the caller's registered mobile devices.
type PushTokenHandler struct {
	service *services.PushTokenService
}

// NewPushTokenHandler constructs a push token handler.
func NewPushTokenHandler(service *services.PushTokenService) (*PushTokenHandler, error) {
	if service == nil {
		return nil, errors.New("push token handler: service is required")
	}
	return &PushTokenHandler{service: service}, nil
}

type upsertPushTokenRequest struct {
	Service  string `json:"service" validate:"required,push_service"`
	DeviceID string `json:"device_id" validate:"required,max=128"`
	Token    string `json:"token" validate:"required,max=256"`
}

type deletePushTokenRequest struct {
	DeviceID string `json:"device_id" validate:"required,max=128"`
}

// List returns registered devices. Admins may inspect another user via user_id.
func (h *PushTokenHandler) List(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	target := strings.TrimSpace(c.Query("user_id"))
	if target != "" && target != userID {
		claims, ok := middleware.ClaimsFromContext(c)
		if !ok || !claims.IsAdmin {
			response.Error(c, appErrors.ErrForbidden)
			return
		}
		userID = target
	}

	var service models.PushService
	if raw := strings.TrimSpace(c.Query("service")); raw != "" {
		parsed, ok := models.ParsePushService(raw)
		if !ok {
			response.Error(c, appErrors.NewBadRequest("unsupported push service"))
			return
		}
		service = parsed
	}

	items, err := h.service.List(requestContext(c), userID, service)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, items)
}

// Upsert registers or refreshes the token of one of the caller's devices.
func (h *PushTokenHandler) Upsert(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req upsertPushTokenRequest
	if !bindAndValidate(c, &req) {
		return
	}

	dto, err := h.service.Upsert(requestContext(c), services.UpsertPushTokenInput{
		UserID:   userID,
		Service:  req.Service,
		DeviceID: req.DeviceID,
		Token:    req.Token,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, dto)
}

// Delete unregisters one of the caller's devices.
func (h *PushTokenHandler) Delete(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req deletePushTokenRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.service.Delete(requestContext(c), userID, req.DeviceID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
