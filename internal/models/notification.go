package models

import (
	"time"

	"gorm.io/datatypes"
)

// NotificationType classifies a notification by the domain event that produced it.
type NotificationType string

const (
	NotificationAIRisk     NotificationType = "ai_risk"
	NotificationMedication NotificationType = "medication"
	NotificationBehavior   NotificationType = "behavior"
	NotificationActivity   NotificationType = "activity"
	NotificationIncident   NotificationType = "incident"
	NotificationMessage    NotificationType = "message"
	NotificationReport     NotificationType = "report"
	NotificationSystem     NotificationType = "system"
)

// NotificationTypes lists every supported type in display order.
var NotificationTypes = []NotificationType{
	NotificationAIRisk,
	NotificationMedication,
	NotificationBehavior,
	NotificationActivity,
	NotificationIncident,
	NotificationMessage,
	NotificationReport,
	NotificationSystem,
}

// Valid reports whether t is a known notification type.
func (t NotificationType) Valid() bool {
	for _, known := range NotificationTypes {
		if t == known {
			return true
		}
	}
	return false
}

// NotificationPriority ranks how urgently a notification should be surfaced.
type NotificationPriority string

const (
	PriorityLow      NotificationPriority = "low"
	PriorityNormal   NotificationPriority = "normal"
	PriorityHigh     NotificationPriority = "high"
	PriorityCritical NotificationPriority = "critical"
)

// Valid reports whether p is a known priority.
func (p NotificationPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	default:
		return false
	}
}

// Notification is the durable, per-recipient record of a domain event.
// Only the read, acknowledged and deleted state pairs change after creation.
type Notification struct {
	BaseModel

	UserID    string               `gorm:"type:varchar(36);not null;index;uniqueIndex:idx_notifications_dedup,priority:1" json:"user_id"`
	PatientID *string              `gorm:"type:varchar(36);index" json:"patient_id,omitempty"`
	Type      NotificationType     `gorm:"type:varchar(32);not null;index" json:"type"`
	Priority  NotificationPriority `gorm:"type:varchar(16);not null;index" json:"priority"`
	Title     string               `gorm:"type:varchar(255);not null" json:"title"`
	Message   string               `gorm:"type:text" json:"message"`
	Data      datatypes.JSON       `json:"data"`

	// Populated only for sweep-generated notifications. NULLs never collide in the unique index.
	DedupTag       *string    `gorm:"type:varchar(128);uniqueIndex:idx_notifications_dedup,priority:2" json:"dedup_tag,omitempty"`
	DedupReference *time.Time `gorm:"uniqueIndex:idx_notifications_dedup,priority:3" json:"dedup_reference,omitempty"`

	ChannelInApp bool `gorm:"not null" json:"channel_in_app"`
	ChannelEmail bool `gorm:"not null" json:"channel_email"`

	IsRead         bool       `gorm:"index" json:"is_read"`
	ReadAt         *time.Time `json:"read_at"`
	IsAcknowledged bool       `json:"is_acknowledged"`
	AcknowledgedAt *time.Time `json:"acknowledged_at"`
	IsDeleted      bool       `gorm:"index" json:"is_deleted"`
	DeletedAt      *time.Time `json:"deleted_at"`
}
