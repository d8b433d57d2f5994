package models

import "strings"

// PushService identifies a mobile push provider.
type PushService string

const (
	PushServiceAPNs   PushService = "apns"
	PushServiceMiPush PushService = "mipush"
)

// PushServices lists every supported provider.
var PushServices = []PushService{PushServiceAPNs, PushServiceMiPush}

// ParsePushService normalises a provider name, reporting whether it is supported.
func ParsePushService(value string) (PushService, bool) {
	svc := PushService(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range PushServices {
		if svc == known {
			return svc, true
		}
	}
	return "", false
}

// PushToken registers a device token for a user with one provider. A device id
// belongs to at most one user at a time.
type PushToken struct {
	BaseModel

	UserID   string      `gorm:"type:varchar(64);not null;uniqueIndex:idx_push_tokens_user_device,priority:1" json:"user_id"`
	Service  PushService `gorm:"type:varchar(16);not null;index" json:"service"`
	DeviceID string      `gorm:"type:varchar(128);not null;uniqueIndex:idx_push_tokens_user_device,priority:2;index" json:"device_id"`
	Token    string      `gorm:"type:varchar(256);not null;index" json:"token"`
}
