package models

import (
	"time"

	"gorm.io/datatypes"
)

// RiskAssessment records the AI risk prediction processed for a patient and target day.
type RiskAssessment struct {
	BaseModel

	PatientID   string               `gorm:"type:varchar(36);not null;uniqueIndex:idx_risk_patient_day,priority:1" json:"patient_id"`
	TargetDate  time.Time            `gorm:"not null;uniqueIndex:idx_risk_patient_day,priority:2" json:"target_date"`
	Probability float64              `json:"probability"`
	Priority    NotificationPriority `gorm:"type:varchar(16)" json:"priority"`
	Drivers     datatypes.JSON       `json:"drivers"`
	Notified    bool                 `json:"notified"`
}
