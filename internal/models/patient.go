package models

import "gorm.io/gorm"

// Patient carries the relationship fields used to compute a patient's care circle.
type Patient struct {
	BaseModel

	Name       string  `gorm:"type:varchar(255);not null" json:"name"`
	HospitalID *string `gorm:"type:varchar(36);index" json:"hospital_id,omitempty"`
	UserID     *string `gorm:"type:varchar(36);index" json:"user_id,omitempty"`
	IsActive   bool    `gorm:"index" json:"is_active"`

	Caregivers    []User `gorm:"many2many:patient_caregivers;" json:"caregivers,omitempty"`
	FamilyMembers []User `gorm:"many2many:patient_family_members;" json:"family_members,omitempty"`

	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
