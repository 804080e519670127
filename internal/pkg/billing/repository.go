package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/inmodash/inmodash-backend/app/models"
)

// finalErrorPrefix marks inbox errors that re-driving cannot fix.
const finalErrorPrefix = "final: "

// Repository provides DB operations used by the billing service.
type Repository interface {
	// Transaction runs fn against a repository bound to one database
	// transaction; an error from fn rolls everything back.
	Transaction(ctx context.Context, fn func(tx Repository) error) error

	GetUser(ctx context.Context, id uint) (*models.User, error)
	UpdateUserProjection(ctx context.Context, userID uint, p UserProjection) error

	FindActiveSubscriptionByUser(ctx context.Context, userID uint) (*models.Subscription, error)
	GetSubscriptionByID(ctx context.Context, id uint) (*models.Subscription, error)
	GetSubscriptionByAgreementID(ctx context.Context, agreementID string) (*models.Subscription, error)
	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	UpdateSubscription(ctx context.Context, sub *models.Subscription) error

	CreatePaymentIfNotExists(ctx context.Context, payment *models.SubscriptionPayment) (bool, error)
	ListRecentPayments(ctx context.Context, subscriptionID uint, limit int) ([]models.SubscriptionPayment, error)

	CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	GetWebhookEvent(ctx context.Context, id uint) (*models.BillingWebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error
	ListRedrivableWebhookEvents(ctx context.Context, olderThan time.Time, maxAttempts, limit int) ([]models.BillingWebhookEvent, error)

	CreateOrphanedAgreementIfNotExists(ctx context.Context, orphan *models.OrphanedAgreement) (bool, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Transaction(ctx context.Context, fn func(tx Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

func (r *gormRepository) GetUser(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, translateError(err, "user %d", id)
	}
	return &u, nil
}

func (r *gormRepository) UpdateUserProjection(ctx context.Context, userID uint, p UserProjection) error {
	cols := p.Columns()
	if len(cols) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Updates(cols).Error
}

func (r *gormRepository) FindActiveSubscriptionByUser(ctx context.Context, userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status IN ?", userID, models.ActiveSubscriptionStatuses).
		Order("created_at DESC, id DESC").
		First(&sub).Error
	if err != nil {
		return nil, translateError(err, "active subscription for user %d", userID)
	}
	return &sub, nil
}

func (r *gormRepository) GetSubscriptionByID(ctx context.Context, id uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).First(&sub, id).Error; err != nil {
		return nil, translateError(err, "subscription %d", id)
	}
	return &sub, nil
}

func (r *gormRepository) GetSubscriptionByAgreementID(ctx context.Context, agreementID string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).Where("provider_agreement_id = ?", agreementID).First(&sub).Error; err != nil {
		return nil, translateError(err, "subscription for agreement %s", agreementID)
	}
	return &sub, nil
}

func (r *gormRepository) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	if sub.Version == 0 {
		sub.Version = 1
	}
	if err := r.db.WithContext(ctx).Create(sub).Error; err != nil {
		return translateError(err, "subscription for user %d", sub.UserID)
	}
	return nil
}

// UpdateSubscription writes the mutable columns only if the stored version
// still matches sub.Version, then bumps it.
func (r *gormRepository) UpdateSubscription(ctx context.Context, sub *models.Subscription) error {
	now := time.Now()
	tx := r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ? AND version = ?", sub.ID, sub.Version).
		Updates(map[string]interface{}{
			"active_user_id":      sub.ActiveUserID,
			"status":              sub.Status,
			"is_trial_active":     sub.IsTrialActive,
			"next_billing_date":   sub.NextBillingDate,
			"last_payment_date":   sub.LastPaymentDate,
			"last_payment_status": sub.LastPaymentStatus,
			"last_payment_amount": sub.LastPaymentAmount,
			"end_date":            sub.EndDate,
			"version":             sub.Version + 1,
			"updated_at":          now,
		})
	if tx.Error != nil {
		return translateError(tx.Error, "subscription %d", sub.ID)
	}
	if tx.RowsAffected == 0 {
		return fmt.Errorf("%w: id=%d version=%d", ErrStaleSubscription, sub.ID, sub.Version)
	}
	sub.Version++
	sub.UpdatedAt = now
	return nil
}

func (r *gormRepository) CreatePaymentIfNotExists(ctx context.Context, payment *models.SubscriptionPayment) (bool, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_payment_id"}},
		DoNothing: true,
	}).Create(payment)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) ListRecentPayments(ctx context.Context, subscriptionID uint, limit int) ([]models.SubscriptionPayment, error) {
	var payments []models.SubscriptionPayment
	err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

func (r *gormRepository) CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	db := r.db.WithContext(ctx)
	tx := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) GetWebhookEvent(ctx context.Context, id uint) (*models.BillingWebhookEvent, error) {
	var ev models.BillingWebhookEvent
	if err := r.db.WithContext(ctx).First(&ev, id).Error; err != nil {
		return nil, translateError(err, "webhook event %d", id)
	}
	return &ev, nil
}

func (r *gormRepository) MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
		"attempts":         gorm.Expr("attempts + 1"),
	}
	return r.db.WithContext(ctx).Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

// ListRedrivableWebhookEvents returns signed events that never finished or
// failed with a retryable error, oldest first.
func (r *gormRepository) ListRedrivableWebhookEvents(ctx context.Context, olderThan time.Time, maxAttempts, limit int) ([]models.BillingWebhookEvent, error) {
	var events []models.BillingWebhookEvent
	err := r.db.WithContext(ctx).
		Where("signature_valid = ? AND created_at < ? AND attempts < ?", true, olderThan, maxAttempts).
		Where("processed_at IS NULL OR (processing_error <> '' AND processing_error NOT LIKE ?)", finalErrorPrefix+"%").
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (r *gormRepository) CreateOrphanedAgreementIfNotExists(ctx context.Context, orphan *models.OrphanedAgreement) (bool, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_agreement_id"}},
		DoNothing: true,
	}).Create(orphan)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func translateError(err error, format string, args ...interface{}) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %s already exists", ErrConflict, fmt.Sprintf(format, args...))
	default:
		return err
	}
}
