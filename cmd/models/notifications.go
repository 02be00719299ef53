package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Device is an Expo push token registered by a signed-in user.
type Device struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Token      string    `gorm:"not null;uniqueIndex:idx_token_user" json:"token"`
	UserID     uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_token_user" json:"user_id"`
	DeviceType string    `gorm:"type:varchar(50)" json:"device_type"`
	DeviceName string    `gorm:"type:varchar(100)" json:"device_name,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (d *Device) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

const (
	NotificationSent    = "sent"
	NotificationPartial = "partial"
	NotificationFailed  = "failed"
	// NotificationStored means no channel reached the user; the row is the only record.
	NotificationStored = "stored"
)

type NotificationHistory struct {
	ID       uint      `gorm:"primaryKey" json:"id"`
	UserID   uuid.UUID `gorm:"type:uuid;index" json:"user_id"`
	Event    string    `gorm:"type:varchar(50);index" json:"event"`
	Title    string    `json:"title"`
	Body     string    `json:"body"`
	Data     string    `gorm:"type:text" json:"data,omitempty"`
	Channels string    `gorm:"type:varchar(50)" json:"channels"`
	Status   string    `gorm:"type:varchar(20)" json:"status"`
	SentAt   time.Time `json:"sent_at"`
}
