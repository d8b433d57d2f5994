package realtime

import "context"

// Publisher broadcasts payloads to every connection subscribed to a channel.
// Publishing to a channel without subscribers is not an error.
type Publisher interface {
	Publish(ctx context.Context, channel Channel, payload any) error
}

// Conn is the view of a websocket connection handed to sessions.
type Conn interface {
	// Send queues payload for delivery to this connection only.
	Send(payload any) error
}

// Session drives the protocol spoken on one websocket connection.
type Session interface {
	// Channel is the broadcast group the connection joins.
	Channel() Channel
	// Open runs once after subscription and before held broadcasts are released.
	Open(ctx context.Context, conn Conn) error
	// Handle processes one inbound frame.
	Handle(ctx context.Context, conn Conn, frame []byte) error
}

var (
	_ Publisher = (*Hub)(nil)
	_ Publisher = (*RedisRelay)(nil)
)
