package notifications

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/opentreehole/treehole/internal/realtime"
)

// FlowHello is the first frame sent on an anonymous connection.
type FlowHello struct {
	CorrelationID string `json:"correlation_id"`
}

// FlowSession serves a not-yet-authenticated socket that only receives status
// updates addressed to its correlation id.
type FlowSession struct {
	correlationID string
}

// NewFlowSession binds a socket to correlationID, generating one when empty
// or not a valid UUID.
func NewFlowSession(correlationID string) *FlowSession {
	correlationID = strings.TrimSpace(correlationID)
	if _, err := uuid.Parse(correlationID); err != nil {
		correlationID = uuid.NewString()
	}
	return &FlowSession{correlationID: correlationID}
}

// CorrelationID returns the id backend workers publish status updates to.
func (f *FlowSession) CorrelationID() string {
	return f.correlationID
}

// Channel implements realtime.Session.
func (f *FlowSession) Channel() realtime.Channel {
	return realtime.FlowChannel(f.correlationID)
}

// Open tells the client its correlation id.
func (f *FlowSession) Open(_ context.Context, conn realtime.Conn) error {
	return conn.Send(FlowHello{CorrelationID: f.correlationID})
}

// Handle rejects every action; anonymous clients may only listen.
func (f *FlowSession) Handle(_ context.Context, conn realtime.Conn, _ []byte) error {
	return conn.Send(Reply{Message: ReplyAuthRequired})
}
