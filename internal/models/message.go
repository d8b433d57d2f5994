package models

import (
	"time"

	"gorm.io/datatypes"
)

// Message is a persisted notification addressed to a single user. Only
// HasRead changes after creation.
type Message struct {
	ID        uint           `gorm:"primaryKey;autoIncrement" json:"message_id"`
	UserID    string         `gorm:"type:varchar(64);not null;index:idx_messages_user_read,priority:1" json:"user_id"`
	Text      string         `gorm:"type:text;not null" json:"message"`
	Code      string         `gorm:"type:varchar(30);index" json:"code"`
	Data      datatypes.JSON `json:"data"`
	HasRead   bool           `gorm:"not null;default:false;index:idx_messages_user_read,priority:2" json:"has_read"`
	CreatedAt time.Time      `gorm:"index" json:"time_created"`
}
