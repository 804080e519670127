package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	ROLE_USER       = "user"
	ROLE_ADMIN      = "admin"
	STATUS_ACTIVE   = "active"
	STATUS_INACTIVE = "inactive"
	STATUS_DISABLED = "disabled"
)

// Values mirrored into User.SubscriptionStatus.
const (
	UserSubscriptionNone      = "none"
	UserSubscriptionTrial     = "trial"
	UserSubscriptionActive    = "active"
	UserSubscriptionPaused    = "paused"
	UserSubscriptionCancelled = "cancelled"
)

// User is the account owning properties, contracts and a billing subscription.
// The Subscription* / *PaymentDate fields are a read-optimized projection of the
// user's current subscription and are written only by the billing package.
type User struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	Name   string `gorm:"type:varchar(150)" json:"name"`
	Email  string `gorm:"uniqueIndex;type:varchar(200)" json:"email"`
	Role   string `gorm:"type:varchar(50);default:'user'" json:"role"`
	Status string `gorm:"type:varchar(50);default:'active'" json:"status"`

	SubscriptionStatus    string     `gorm:"type:varchar(32);not null;default:'none'" json:"subscription_status"`
	SubscriptionPlan      string     `gorm:"type:varchar(50);default:''" json:"subscription_plan"`
	SubscriptionStartDate *time.Time `gorm:"type:timestamp;default:null" json:"subscription_start_date,omitempty"`
	TrialEndsAt           *time.Time `gorm:"type:timestamp;default:null" json:"trial_ends_at,omitempty"`
	NextPaymentDate       *time.Time `gorm:"type:timestamp;default:null" json:"next_payment_date,omitempty"`
	LastPaymentDate       *time.Time `gorm:"type:timestamp;default:null" json:"last_payment_date,omitempty"`

	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// IsActive reports whether the user status is active
func (u *User) IsActive() bool {
	return u.Status == STATUS_ACTIVE
}
