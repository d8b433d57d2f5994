package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/opentreehole/treehole/internal/realtime"
	"github.com/opentreehole/treehole/internal/services"
	apperrors "github.com/opentreehole/treehole/pkg/errors"
)

// Socket replies that carry no message payload.
const (
	ReplyUnreadMessages = "unread messages"
	ReplyNotFound       = "not found"
	ReplyCleared        = "all messages marked as read"
	ReplyInvalidAction  = "invalid action"
	ReplyAuthRequired   = "authentication required"
	ReplyInternalError  = "internal error"
)

// Reply is a plain acknowledgement frame.
type Reply struct {
	Message string `json:"message"`
}

// Request is a client frame on the notification socket.
type Request struct {
	Action string `json:"action"`
	ID     uint   `json:"id,omitempty"`
	Unread *bool  `json:"unread,omitempty"`
}

// MessageReader is the message store surface used by the socket protocol.
type MessageReader interface {
	Get(ctx context.Context, userID string, id uint) (*services.MessageDTO, error)
	List(ctx context.Context, input services.ListMessagesInput) ([]services.MessageDTO, error)
	Unread(ctx context.Context, userID string) ([]services.MessageDTO, error)
	MarkRead(ctx context.Context, userID string, id uint) (*services.MessageDTO, error)
	MarkUnread(ctx context.Context, userID string, id uint) (*services.MessageDTO, error)
	MarkAllRead(ctx context.Context, userID string) (int64, error)
}

// Session serves an authenticated user's notification socket.
type Session struct {
	userID   string
	messages MessageReader
}

var (
	_ realtime.Session = (*Session)(nil)
	_ realtime.Session = (*FlowSession)(nil)
)

// NewSession binds a socket to userID.
func NewSession(userID string, messages MessageReader) *Session {
	return &Session{userID: strings.TrimSpace(userID), messages: messages}
}

// Channel implements realtime.Session.
func (s *Session) Channel() realtime.Channel {
	return realtime.UserChannel(s.userID)
}

// Open greets the client and replays every unread message, oldest first.
func (s *Session) Open(ctx context.Context, conn realtime.Conn) error {
	if err := conn.Send(Reply{Message: ReplyUnreadMessages}); err != nil {
		return err
	}

	unread, err := s.messages.Unread(ctx, s.userID)
	if err != nil {
		return err
	}
	for i := range unread {
		if err := conn.Send(&unread[i]); err != nil {
			return err
		}
	}
	return nil
}

// Handle answers one get/read/unread/clear request.
func (s *Session) Handle(ctx context.Context, conn realtime.Conn, frame []byte) error {
	var req Request
	if err := json.Unmarshal(frame, &req); err != nil {
		return conn.Send(Reply{Message: ReplyInvalidAction})
	}

	var (
		reply any
		err   error
	)
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "get":
		reply, err = s.get(ctx, req)
	case "read":
		if req.ID == 0 {
			return conn.Send(Reply{Message: ReplyInvalidAction})
		}
		reply, err = s.messages.MarkRead(ctx, s.userID, req.ID)
	case "unread":
		if req.ID == 0 {
			return conn.Send(Reply{Message: ReplyInvalidAction})
		}
		reply, err = s.messages.MarkUnread(ctx, s.userID, req.ID)
	case "clear":
		if _, err = s.messages.MarkAllRead(ctx, s.userID); err == nil {
			reply = Reply{Message: ReplyCleared}
		}
	default:
		return conn.Send(Reply{Message: ReplyInvalidAction})
	}

	switch {
	case err == nil:
		return conn.Send(reply)
	case errors.Is(err, apperrors.ErrNotFound):
		return conn.Send(Reply{Message: ReplyNotFound})
	default:
		if sendErr := conn.Send(Reply{Message: ReplyInternalError}); sendErr != nil {
			return sendErr
		}
		return err
	}
}

func (s *Session) get(ctx context.Context, req Request) (any, error) {
	if req.ID != 0 {
		return s.messages.Get(ctx, s.userID, req.ID)
	}
	if req.Unread != nil && !*req.Unread {
		return s.messages.List(ctx, services.ListMessagesInput{UserID: s.userID})
	}
	return s.messages.Unread(ctx, s.userID)
}
