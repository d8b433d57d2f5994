package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Channel names a broadcast group. Authenticated users and anonymous flows use
// distinct channel types so callers never branch on authentication.
type Channel interface {
	Group() string
}

// UserChannel addresses every connection of an authenticated user.
type UserChannel string

// Group implements Channel.
func (c UserChannel) Group() string {
	return "user-" + strings.TrimSpace(string(c))
}

// FlowChannel addresses an anonymous connection bound to a correlation id,
// such as a registration or email verification flow.
type FlowChannel string

// Group implements Channel.
func (c FlowChannel) Group() string {
	return "flow-" + strings.TrimSpace(string(c))
}

// Keyer is implemented by payloads that carry a stable identity used to
// suppress duplicate delivery during connection catch-up.
type Keyer interface {
	EventKey() string
}

// Event is an encoded payload ready to be written to sockets.
type Event struct {
	Key  string          `json:"key,omitempty"`
	Data json.RawMessage `json:"data"`
}

// NewEvent encodes payload into an Event.
func NewEvent(payload any) (Event, error) {
	switch value := payload.(type) {
	case Event:
		return value, nil
	case *Event:
		if value == nil {
			return Event{}, fmt.Errorf("realtime: nil event")
		}
		return *value, nil
	case json.RawMessage:
		return Event{Data: value}, nil
	case []byte:
		return Event{Data: json.RawMessage(value)}, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("realtime: encode payload: %w", err)
	}

	event := Event{Data: data}
	if keyer, ok := payload.(Keyer); ok {
		event.Key = keyer.EventKey()
	}
	return event, nil
}
