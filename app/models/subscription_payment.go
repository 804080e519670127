package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatusApproved is the provider status of a settled payment.
const PaymentStatusApproved = "approved"

// SubscriptionPayment is an append-only ledger entry for one provider payment.
// ProviderPaymentID is unique, so a payment is recorded once however often its
// notification is delivered.
type SubscriptionPayment struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	SubscriptionID    uint            `gorm:"not null;index" json:"subscription_id"`
	ProviderPaymentID string          `gorm:"type:varchar(191);not null;uniqueIndex:ux_subscription_payments_provider_payment" json:"provider_payment_id"`
	Amount            decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency          string          `gorm:"type:varchar(3);not null" json:"currency"`
	Status            string          `gorm:"type:varchar(32);not null;index" json:"status"`
	StatusDetail      string          `gorm:"type:varchar(100);default:''" json:"status_detail"`
	PaymentMethodID   string          `gorm:"type:varchar(50);default:''" json:"payment_method_id"`
	PaymentType       string          `gorm:"type:varchar(50);default:''" json:"payment_type"`
	PaidAt            *time.Time      `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	RawPayloadJSON    string          `gorm:"type:longtext" json:"-"`
	CreatedAt         time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

// IsApproved reports whether the provider settled the payment.
func (p *SubscriptionPayment) IsApproved() bool {
	return p.Status == PaymentStatusApproved
}
