package billing

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// AgreementGateway manages recurring billing agreements at the provider.
type AgreementGateway interface {
	CreateAgreement(ctx context.Context, req AgreementRequest) (*Agreement, error)
	GetAgreement(ctx context.Context, id string) (*Agreement, error)
	UpdateAgreement(ctx context.Context, id, status string) error
	// SearchAgreements lists agreements created at or after since.
	SearchAgreements(ctx context.Context, since time.Time) ([]Agreement, error)
}

// PaymentGateway reads individual payments from the provider.
type PaymentGateway interface {
	GetPayment(ctx context.Context, id string) (*Payment, error)
}

// Gateway is everything the billing service needs from a payment provider.
type Gateway interface {
	AgreementGateway
	PaymentGateway
}

// AgreementRequest describes a recurring billing agreement to create.
type AgreementRequest struct {
	Reason            string
	PayerEmail        string
	BackURL           string
	ExternalReference string
	IdempotencyKey    string
	Frequency         int
	FrequencyType     string
	Amount            decimal.Decimal
	Currency          string
	TrialDays         int
	Status            string
}

// Agreement is the provider's view of a recurring billing agreement.
type Agreement struct {
	ID                string
	Status            string
	CheckoutURL       string
	PayerEmail        string
	ExternalReference string
	DateCreated       *time.Time
}

// Payment is the provider's view of a single charge.
type Payment struct {
	ID              string
	Status          string
	StatusDetail    string
	Amount          decimal.Decimal
	Currency        string
	PaymentMethodID string
	PaymentType     string
	AgreementID     string
	PaidAt          *time.Time
	Raw             json.RawMessage
}
