package domain

import (
	"encoding/json"
	"time"
)

// NotificationKind classifies engine notifications.
type NotificationKind string

const (
	NotificationUpcomingService   NotificationKind = "upcoming_service"   // requester: a new occurrence was scheduled
	NotificationScheduleTrouble   NotificationKind = "schedule_trouble"   // requester: generation keeps failing
	NotificationScheduleAlert     NotificationKind = "schedule_alert"     // operator: failure detail for escalation
	NotificationScheduleCancelled NotificationKind = "schedule_cancelled" // requester: schedule was cancelled
)

// Notification is one persisted outbox row. Delivery to a device or inbox is
// the consuming channel's concern.
type Notification struct {
	ID        int64            `json:"id" gorm:"primaryKey;column:id"`
	EventID   string           `json:"event_id" gorm:"column:event_id"`
	UserID    int64            `json:"user_id" gorm:"column:user_id;index:idx_notifications_user"`
	Kind      NotificationKind `json:"kind" gorm:"column:kind"`
	Title     string           `json:"title" gorm:"column:title"`
	Data      json.RawMessage  `json:"data,omitempty" gorm:"column:data"`
	IsRead    bool             `json:"is_read" gorm:"column:is_read"`
	CreatedAt time.Time        `json:"created_at" gorm:"column:created_at"`
}

func (Notification) TableName() string {
	return "notifications"
}

// SetData encodes the payload to JSON.
func (n *Notification) SetData(v any) error {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	n.Data = b
	return nil
}
