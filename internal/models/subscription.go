package models

import "time"

// Subscription statuses.
const (
	SubscriptionActive   = "active"
	SubscriptionPastDue  = "past_due"
	SubscriptionCanceled = "canceled"
)

// Subscription is the billing plan owned by a hospital admin. Billing itself lives elsewhere.
type Subscription struct {
	BaseModel

	UserID           string    `gorm:"type:varchar(36);not null;index" json:"user_id"`
	Plan             string    `gorm:"type:varchar(64)" json:"plan"`
	Status           string    `gorm:"type:varchar(16);not null;index" json:"status"`
	CurrentPeriodEnd time.Time `gorm:"index" json:"current_period_end"`
}
