package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/opentreehole/treehole/internal/realtime"
	appErrors "github.com/opentreehole/treehole/pkg/errors"
	"github.com/opentreehole/treehole/pkg/response"
)

const maxFlowStatusBytes = 64 << 10

// FlowHandler forwards status updates to anonymous sockets waiting on a flow.
type FlowHandler struct {
	publisher realtime.Publisher
}

// NewFlowHandler constructs a flow handler.
func NewFlowHandler(publisher realtime.Publisher) (*FlowHandler, error) {
	if publisher == nil {
		return nil, errors.New("flow handler: publisher is required")
	}
	return &FlowHandler{publisher: publisher}, nil
}

// PublishStatus sends the JSON object in the request body to the flow's socket.
func (h *FlowHandler) PublishStatus(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if _, err := uuid.Parse(id); err != nil {
		response.Error(c, appErrors.NewBadRequest("flow id must be a valid UUID"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxFlowStatusBytes+1))
	if err != nil {
		response.Error(c, appErrors.NewBadRequest("unable to read request body"))
		return
	}
	if len(body) > maxFlowStatusBytes {
		response.Error(c, appErrors.NewBadRequest("status payload too large"))
		return
	}

	var status map[string]any
	if err := json.Unmarshal(body, &status); err != nil || status == nil {
		response.Error(c, appErrors.NewBadRequest("status must be a JSON object"))
		return
	}

	if err := h.publisher.Publish(requestContext(c), realtime.FlowChannel(id), json.RawMessage(body)); err != nil {
		response.Error(c, appErrors.ErrUnavailable.WithInternal(err))
		return
	}

	response.Success(c, http.StatusAccepted, gin.H{"published": true})
}
