package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opentreehole/treehole/internal/notifications"
	appErrors "github.com/opentreehole/treehole/pkg/errors"
	"github.com/opentreehole/treehole/pkg/response"
)

// NotificationHandler lets operators and internal services send notifications.
type NotificationHandler struct {
	notifier notifications.BatchNotifier
}

// NewNotificationHandler constructs a notification handler.
func NewNotificationHandler(notifier notifications.BatchNotifier) (*NotificationHandler, error) {
	if notifier == nil {
		return nil, errors.New("notification handler: notifier is required")
	}
	return &NotificationHandler{notifier: notifier}, nil
}

type sendNotificationRequest struct {
	RecipientIDs []string       `json:"recipient_ids" validate:"required,min=1,max=1000,dive,required"`
	Message      string         `json:"message" validate:"required,max=4096"`
	Code         string         `json:"code" validate:"omitempty,max=30"`
	Data         map[string]any `json:"data"`
}

// Send queues one notification per recipient. Either every recipient is
// queued and the answer is 202, or none is and the caller may retry.
func (h *NotificationHandler) Send(c *gin.Context) {
	var req sendNotificationRequest
	if !bindAndValidate(c, &req) {
		return
	}

	code := notifications.Code(req.Code)
	if code == "" {
		code = notifications.CodeGeneric
	}

	events := make([]notifications.Event, 0, len(req.RecipientIDs))
	for _, recipient := range req.RecipientIDs {
		events = append(events, notifications.Event{
			RecipientID: recipient,
			Text:        req.Message,
			Code:        code,
			Payload:     notifications.Payload(req.Data),
		})
	}

	if err := h.notifier.NotifyAll(requestContext(c), events); err != nil {
		if errors.Is(err, notifications.ErrQueueFull) || errors.Is(err, notifications.ErrStopped) {
			response.Error(c, appErrors.ErrUnavailable.WithMessage("notifications not queued; retry later").WithInternal(err))
			return
		}
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusAccepted, gin.H{"queued": len(events)})
}
