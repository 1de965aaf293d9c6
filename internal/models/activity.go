package models

import "time"

// Activity statuses.
const (
	ActivityScheduled = "scheduled"
	ActivityCompleted = "completed"
	ActivityCancelled = "cancelled"
)

// Activity is a scheduled care activity for a patient.
type Activity struct {
	BaseModel

	PatientID   string     `gorm:"type:varchar(36);not null;index" json:"patient_id"`
	Title       string     `gorm:"type:varchar(255);not null" json:"title"`
	Description string     `gorm:"type:text" json:"description"`
	ScheduledAt time.Time  `gorm:"index" json:"scheduled_at"`
	Status      string     `gorm:"type:varchar(16);not null;index" json:"status"`
	IsNotified  bool       `gorm:"index" json:"is_notified"`
	NotifiedAt  *time.Time `json:"notified_at"`
}
