package models

import (
	"time"

	"gorm.io/gorm"
)

// UserRole is the principal taxonomy shared by the auth middleware and notification routing.
type UserRole string

const (
	RoleSuperAdmin UserRole = "super_admin"
	RoleHospital   UserRole = "hospital"
	RoleNurse      UserRole = "nurse"
	RoleCaregiver  UserRole = "caregiver"
	RoleFamily     UserRole = "family"
	RolePatient    UserRole = "patient"
)

// Valid reports whether the role is part of the known taxonomy.
func (r UserRole) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleHospital, RoleNurse, RoleCaregiver, RoleFamily, RolePatient:
		return true
	default:
		return false
	}
}

// User is the directory entry for every account that can receive notifications.
// Staff accounts (nurses, caregivers) point at the hospital admin that created them via CreatedBy.
type User struct {
	BaseModel

	Name      string   `gorm:"type:varchar(255)" json:"name"`
	Email     string   `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Role      UserRole `gorm:"type:varchar(32);index;not null" json:"role"`
	CreatedBy *string  `gorm:"type:varchar(36);index" json:"created_by,omitempty"`
	IsActive  bool     `gorm:"index" json:"is_active"`

	PushToken *string `gorm:"type:text" json:"-"`

	IsOnline   bool       `json:"is_online"`
	LastSeenAt *time.Time `json:"last_seen_at"`
	SessionID  string     `gorm:"type:varchar(64)" json:"-"`

	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
