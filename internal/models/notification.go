package models

import (
	"time"

	"gorm.io/datatypes"
)

type NotificationType string

const (
	TypeInfo     NotificationType = "info"
	TypeSuccess  NotificationType = "success"
	TypeWarning  NotificationType = "warning"
	TypeError    NotificationType = "error"
	TypeReminder NotificationType = "reminder"
)

func (t NotificationType) Valid() bool {
	switch t {
	case TypeInfo, TypeSuccess, TypeWarning, TypeError, TypeReminder:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return true
	}
	return false
}

const (
	DefaultIcon  = "/icons/icon-192x192.png"
	DefaultBadge = "/icons/badge-72x72.png"
	DefaultURL   = "/"
)

// Notification is the stored record for a user notification.
// The sent and read axes move independently of each other.
type Notification struct {
	ID        string            `gorm:"primaryKey;size:64" json:"id"`
	UserID    string            `gorm:"size:64;not null;index:idx_notifications_user_read,priority:1;index:idx_notifications_user_created,priority:1" json:"user_id"`
	Title     string            `gorm:"not null" json:"title"`
	Body      string            `gorm:"not null" json:"body"`
	Icon      string            `json:"icon"`
	Badge     string            `json:"badge"`
	URL       string            `json:"url"`
	Type      NotificationType  `gorm:"size:16;not null" json:"type"`
	Priority  Priority          `gorm:"size:16;not null" json:"priority"`
	Data      datatypes.JSONMap `json:"data"`
	Read      bool              `gorm:"not null;default:false;index:idx_notifications_user_read,priority:2" json:"read"`
	ReadAt    *time.Time        `json:"read_at"`
	Sent      bool              `gorm:"not null;default:false;index:idx_notifications_sent,priority:1" json:"sent"`
	SentAt    *time.Time        `gorm:"index:idx_notifications_sent,priority:2" json:"sent_at"`
	CreatedAt time.Time         `gorm:"index:idx_notifications_user_created,priority:2,sort:desc" json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func (Notification) TableName() string { return "notifications" }

// DeliveryStatus is the sent axis of a notification as written to storage.
type DeliveryStatus struct {
	Sent   bool
	SentAt *time.Time
}

// NotificationDraft carries the caller-supplied fields of a new notification.
type NotificationDraft struct {
	ID       string
	UserID   string
	Title    string
	Body     string
	Icon     string
	Badge    string
	URL      string
	Type     NotificationType
	Priority Priority
	Data     map[string]any
}
