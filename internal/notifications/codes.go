// Package notifications turns domain events into persisted messages, realtime
// broadcasts and mobile pushes, and speaks the notification socket protocol.
package notifications

// Code classifies a notification. Unknown codes are accepted.
type Code string

const (
	CodeMention    Code = "mention"
	CodeFavorite   Code = "favorite"
	CodeReport     Code = "report"
	CodeModify     Code = "modify"
	CodePermission Code = "permission"
	CodePenalty    Code = "penalty"
	CodeShareEmail Code = "share_email"
	CodeGeneric    Code = "generic"
)

var knownCodes = map[Code]struct{}{
	CodeMention:    {},
	CodeFavorite:   {},
	CodeReport:     {},
	CodeModify:     {},
	CodePermission: {},
	CodePenalty:    {},
	CodeShareEmail: {},
	CodeGeneric:    {},
}

// Known reports whether c is one of the predefined codes.
func (c Code) Known() bool {
	_, ok := knownCodes[c]
	return ok
}

// metricLabel bounds label cardinality for unknown codes.
func (c Code) metricLabel() string {
	if c.Known() {
		return string(c)
	}
	return "other"
}

// Payload is the structured data attached to a notification.
type Payload map[string]any

// Event is one notification addressed to a single recipient. It is never persisted as-is.
type Event struct {
	RecipientID string
	Text        string
	Code        Code
	Payload     Payload
}
