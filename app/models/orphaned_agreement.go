package models

import "time"

// OrphanedAgreement records a provider agreement that has no local
// subscription, typically because the local write failed after the provider
// accepted the agreement. Rows stay until an operator resolves them.
type OrphanedAgreement struct {
	ID                  uint       `gorm:"primaryKey" json:"id"`
	Provider            string     `gorm:"type:varchar(20);not null" json:"provider"`
	ProviderAgreementID string     `gorm:"type:varchar(191);not null;uniqueIndex:ux_orphaned_agreements_agreement" json:"provider_agreement_id"`
	UserID              uint       `gorm:"default:0;index" json:"user_id"`
	PayerEmail          string     `gorm:"type:varchar(200);default:''" json:"payer_email"`
	RemoteStatus        string     `gorm:"type:varchar(32);default:''" json:"remote_status"`
	Reason              string     `gorm:"type:text" json:"reason"`
	ResolvedAt          *time.Time `gorm:"type:timestamp;default:null;index" json:"resolved_at,omitempty"`
	CreatedAt           time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
