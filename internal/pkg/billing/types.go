package billing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/inmodash/inmodash-backend/app/models"
)

// Webhook notification types sent by MercadoPago.
const (
	NotificationTypePreapproval       = "subscription_preapproval"
	NotificationTypeAuthorizedPayment = "subscription_authorized_payment"
	NotificationTypePayment           = "payment"
)

// CreateSubscriptionInput carries a create request. Empty Plan and Currency
// and an absent Amount fall back to the configured plan defaults.
type CreateSubscriptionInput struct {
	UserID   uint
	Email    string
	Plan     string
	Amount   decimal.NullDecimal
	Currency string
}

// CreateSubscriptionResult is the stored subscription plus the provider's
// hosted checkout URL.
type CreateSubscriptionResult struct {
	Subscription *models.Subscription
	InitPoint    string
}

// WebhookNotification is the provider-agnostic shape of an inbound webhook.
// It is only a pointer to remote state, never trusted for the state itself.
type WebhookNotification struct {
	Type   string           `json:"type"`
	Action string           `json:"action"`
	Data   WebhookEventData `json:"data"`
}

// WebhookEventData identifies the resource the notification is about.
type WebhookEventData struct {
	ID string `json:"id"`
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	Notification    WebhookNotification
	PayloadJSON     string
	SignatureValid  bool
}

// UserProjection is the set of user subscription fields to overwrite. Nil
// pointers and empty strings are left untouched.
type UserProjection struct {
	SubscriptionStatus    string
	SubscriptionPlan      string
	SubscriptionStartDate *time.Time
	TrialEndsAt           *time.Time
	NextPaymentDate       *time.Time
	LastPaymentDate       *time.Time
}

// Columns returns the user table columns the projection writes.
func (p UserProjection) Columns() map[string]interface{} {
	cols := map[string]interface{}{}
	if p.SubscriptionStatus != "" {
		cols["subscription_status"] = p.SubscriptionStatus
	}
	if p.SubscriptionPlan != "" {
		cols["subscription_plan"] = p.SubscriptionPlan
	}
	if p.SubscriptionStartDate != nil {
		cols["subscription_start_date"] = *p.SubscriptionStartDate
	}
	if p.TrialEndsAt != nil {
		cols["trial_ends_at"] = *p.TrialEndsAt
	}
	if p.NextPaymentDate != nil {
		cols["next_payment_date"] = *p.NextPaymentDate
	}
	if p.LastPaymentDate != nil {
		cols["last_payment_date"] = *p.LastPaymentDate
	}
	return cols
}

// Apply copies the projection onto a user value.
func (p UserProjection) Apply(u *models.User) {
	if p.SubscriptionStatus != "" {
		u.SubscriptionStatus = p.SubscriptionStatus
	}
	if p.SubscriptionPlan != "" {
		u.SubscriptionPlan = p.SubscriptionPlan
	}
	if p.SubscriptionStartDate != nil {
		u.SubscriptionStartDate = timePtr(*p.SubscriptionStartDate)
	}
	if p.TrialEndsAt != nil {
		u.TrialEndsAt = timePtr(*p.TrialEndsAt)
	}
	if p.NextPaymentDate != nil {
		u.NextPaymentDate = timePtr(*p.NextPaymentDate)
	}
	if p.LastPaymentDate != nil {
		u.LastPaymentDate = timePtr(*p.LastPaymentDate)
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}
