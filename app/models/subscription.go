package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SubscriptionStatusPending    = "pending"
	SubscriptionStatusAuthorized = "authorized"
	SubscriptionStatusPaused     = "paused"
	SubscriptionStatusCancelled  = "cancelled"
)

const (
	FrequencyTypeMonths = "months"
	FrequencyTypeDays   = "days"
)

// ActiveSubscriptionStatuses is the set of statuses counting as the user's one
// active subscription.
var ActiveSubscriptionStatuses = []string{
	SubscriptionStatusPending,
	SubscriptionStatusAuthorized,
	SubscriptionStatusPaused,
}

// Subscription mirrors a recurring billing agreement (MercadoPago preapproval).
//
// ActiveUserID holds UserID while the subscription is active and NULL
// otherwise; its unique index is what keeps a user at one active subscription
// even when two creates race. Version is bumped on every update and checked by
// the repository to serialize writers.
type Subscription struct {
	ID                  uint                `gorm:"primaryKey" json:"id"`
	UserID              uint                `gorm:"not null;index" json:"user_id"`
	ActiveUserID        *uint               `gorm:"uniqueIndex:ux_subscriptions_active_user" json:"-"`
	ProviderAgreementID *string             `gorm:"type:varchar(191);uniqueIndex:ux_subscriptions_provider_agreement" json:"provider_agreement_id"`
	Plan                string              `gorm:"type:varchar(50);not null" json:"plan"`
	Amount              decimal.Decimal     `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency            string              `gorm:"type:varchar(3);not null" json:"currency"`
	Frequency           int                 `gorm:"not null;default:1" json:"frequency"`
	FrequencyType       string              `gorm:"type:varchar(16);not null;default:'months'" json:"frequency_type"`
	Status              string              `gorm:"type:varchar(32);not null;default:'pending';index" json:"status"`
	StartDate           time.Time           `gorm:"type:timestamp;not null" json:"start_date"`
	IsTrialActive       bool                `gorm:"default:false" json:"is_trial_active"`
	TrialEndDate        *time.Time          `gorm:"type:timestamp;default:null" json:"trial_end_date,omitempty"`
	NextBillingDate     *time.Time          `gorm:"type:timestamp;default:null" json:"next_billing_date,omitempty"`
	LastPaymentDate     *time.Time          `gorm:"type:timestamp;default:null" json:"last_payment_date,omitempty"`
	LastPaymentStatus   string              `gorm:"type:varchar(32);default:''" json:"last_payment_status"`
	LastPaymentAmount   decimal.NullDecimal `gorm:"type:decimal(12,2);default:null" json:"last_payment_amount"`
	EndDate             *time.Time          `gorm:"type:timestamp;default:null" json:"end_date,omitempty"`
	Version             uint                `gorm:"not null;default:1" json:"-"`
	CreatedAt           time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time           `gorm:"autoUpdateTime" json:"updated_at"`

	Payments []SubscriptionPayment `gorm:"foreignKey:SubscriptionID" json:"payments,omitempty"`
}

// IsActiveSubscriptionStatus reports whether status belongs to the active set.
func IsActiveSubscriptionStatus(status string) bool {
	for _, s := range ActiveSubscriptionStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// IsActive reports whether the subscription is pending, authorized or paused.
func (s *Subscription) IsActive() bool {
	return IsActiveSubscriptionStatus(s.Status)
}

// IsCancelled reports whether the subscription reached its terminal state.
func (s *Subscription) IsCancelled() bool {
	return s.Status == SubscriptionStatusCancelled
}

// AgreementID returns the provider agreement id or "" when not linked yet.
func (s *Subscription) AgreementID() string {
	if s.ProviderAgreementID == nil {
		return ""
	}
	return *s.ProviderAgreementID
}

// SetStatus changes the status and keeps ActiveUserID in step with it.
func (s *Subscription) SetStatus(status string) {
	s.Status = status
	if IsActiveSubscriptionStatus(status) {
		uid := s.UserID
		s.ActiveUserID = &uid
	} else {
		s.ActiveUserID = nil
	}
}

// MarkCancelled moves the subscription to its terminal state at the given time.
func (s *Subscription) MarkCancelled(at time.Time) {
	s.SetStatus(SubscriptionStatusCancelled)
	if s.EndDate == nil {
		end := at
		s.EndDate = &end
	}
}

// NextBillingAfter returns from advanced by one billing period.
func (s *Subscription) NextBillingAfter(from time.Time) time.Time {
	n := s.Frequency
	if n <= 0 {
		n = 1
	}
	if s.FrequencyType == FrequencyTypeDays {
		return from.AddDate(0, 0, n)
	}
	return from.AddDate(0, n, 0)
}
