package models

import "time"

// Billing provider constants used across billing-related models.
const (
	BillingProviderMercadoPago = "mercadopago"
)

// BillingWebhookEvent stores provider webhook payloads with deduplication
// metadata so that processing can be re-driven after failures.
type BillingWebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Provider        string     `gorm:"type:varchar(20);not null;index:ux_billing_webhook_events_provider_event,unique,priority:1;index" json:"provider"`
	ProviderEventID string     `gorm:"type:varchar(191);not null;default:'';index:ux_billing_webhook_events_provider_event,unique,priority:2" json:"provider_event_id"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	Action          string     `gorm:"type:varchar(100);default:''" json:"action"`
	ResourceID      string     `gorm:"type:varchar(191);default:'';index" json:"resource_id"`
	PayloadJSON     string     `gorm:"type:longtext;not null" json:"payload_json"`
	SignatureValid  bool       `gorm:"default:false;index" json:"signature_valid"`
	Attempts        int        `gorm:"not null;default:0" json:"attempts"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null;index" json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsProcessedSuccessfully reports whether the event ran to completion without error.
func (e *BillingWebhookEvent) IsProcessedSuccessfully() bool {
	return e.ProcessedAt != nil && e.ProcessingError == ""
}
