package models

import (
	"time"

	"gorm.io/datatypes"
)

// Reminder lifecycle states.
const (
	ReminderActive    = "active"
	ReminderPaused    = "paused"
	ReminderCompleted = "completed"
)

// MedicationReminder schedules one or more daily doses, expressed as HH:MM in Timezone.
type MedicationReminder struct {
	BaseModel

	PatientID      string                      `gorm:"type:varchar(36);not null;index" json:"patient_id"`
	MedicationName string                      `gorm:"type:varchar(255);not null" json:"medication_name"`
	Dosage         string                      `gorm:"type:varchar(128)" json:"dosage"`
	SpecificTimes  datatypes.JSONSlice[string] `json:"specific_times"`
	Timezone       string                      `gorm:"type:varchar(64)" json:"timezone"`
	Status         string                      `gorm:"type:varchar(16);not null;index" json:"status"`
	StartDate      time.Time                   `json:"start_date"`
	EndDate        *time.Time                  `json:"end_date"`

	LastNotifiedAt   *time.Time `json:"last_notified_at"`
	LastNotifiedSlot string     `gorm:"type:varchar(64)" json:"last_notified_slot"`
}
