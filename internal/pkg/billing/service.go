package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/inmodash/inmodash-backend/app/models"
)

const (
	// maxMutationAttempts bounds retries when a concurrent writer bumped the
	// subscription version first.
	maxMutationAttempts = 3
	recentPaymentsLimit = 5
	externalRefPrefix   = "inmodash-user-"
)

// Service owns the subscription lifecycle and provider reconciliation.
type Service struct {
	repo    Repository
	gateway Gateway
	cfg     Config
	now     func() time.Time
}

// NewService creates a billing service from an injected repository and gateway.
func NewService(repo Repository, gateway Gateway, cfg Config) *Service {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = defaultProviderTimeout
	}
	return &Service{repo: repo, gateway: gateway, cfg: cfg, now: time.Now}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, gateway Gateway, cfg Config) *Service {
	return NewService(NewRepository(db), gateway, cfg)
}

// CreateSubscription creates a provider agreement and the matching pending
// subscription in its trial window. Nothing is written locally if the provider
// call fails.
func (s *Service) CreateSubscription(ctx context.Context, in CreateSubscriptionInput) (*CreateSubscriptionResult, error) {
	if in.UserID == 0 {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	email := strings.TrimSpace(in.Email)
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrValidation)
	}
	plan := strings.TrimSpace(in.Plan)
	if plan == "" {
		plan = s.cfg.DefaultPlan
	}
	amount := s.cfg.DefaultAmount
	if in.Amount.Valid {
		amount = in.Amount.Decimal
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = s.cfg.DefaultCurrency
	}

	if _, err := s.repo.GetUser(ctx, in.UserID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: user %d does not exist", ErrValidation, in.UserID)
		}
		return nil, err
	}
	existing, err := s.repo.FindActiveSubscriptionByUser(ctx, in.UserID)
	if err == nil {
		return nil, fmt.Errorf("%w: user %d already has subscription %d in status %s", ErrConflict, in.UserID, existing.ID, existing.Status)
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := s.now()
	trialEnd := now.AddDate(0, 0, s.cfg.TrialDays)

	gctx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	agreement, err := s.gateway.CreateAgreement(gctx, AgreementRequest{
		Reason:            fmt.Sprintf("InmoDash %s", plan),
		PayerEmail:        email,
		BackURL:           s.cfg.SuccessURL,
		ExternalReference: externalReference(in.UserID),
		IdempotencyKey:    uuid.NewString(),
		Frequency:         s.cfg.BillingFrequency,
		FrequencyType:     s.cfg.BillingFrequencyType,
		Amount:            amount,
		Currency:          currency,
		TrialDays:         s.cfg.TrialDays,
		Status:            models.SubscriptionStatusPending,
	})
	cancel()
	if err != nil {
		log.Errorf("[Billing] Creating agreement for user %d failed: %v", in.UserID, err)
		return nil, fmt.Errorf("%w: create agreement: %v", ErrProvider, err)
	}

	agreementID := agreement.ID
	sub := &models.Subscription{
		UserID:              in.UserID,
		ProviderAgreementID: &agreementID,
		Plan:                plan,
		Amount:              amount,
		Currency:            currency,
		Frequency:           s.cfg.BillingFrequency,
		FrequencyType:       s.cfg.BillingFrequencyType,
		StartDate:           now,
		IsTrialActive:       true,
		TrialEndDate:        timePtr(trialEnd),
		NextBillingDate:     timePtr(trialEnd),
		Version:             1,
	}
	sub.SetStatus(models.SubscriptionStatusPending)

	err = s.repo.Transaction(ctx, func(tx Repository) error {
		if err := tx.CreateSubscription(ctx, sub); err != nil {
			return err
		}
		return tx.UpdateUserProjection(ctx, in.UserID, UserProjection{
			SubscriptionStatus:    models.UserSubscriptionTrial,
			SubscriptionPlan:      plan,
			SubscriptionStartDate: timePtr(now),
			TrialEndsAt:           timePtr(trialEnd),
			NextPaymentDate:       timePtr(trialEnd),
		})
	})
	if err != nil {
		log.Errorf("[Billing] Storing subscription for agreement %s (user %d) failed: %v", agreementID, in.UserID, err)
		s.recordOrphan(ctx, agreement, in.UserID, email, fmt.Sprintf("local write failed: %v", err))
		return nil, err
	}

	log.Infof("[Billing] Created subscription %d for user %d (agreement %s)", sub.ID, in.UserID, agreementID)
	return &CreateSubscriptionResult{Subscription: sub, InitPoint: agreement.CheckoutURL}, nil
}

// CancelSubscription cancels the user's active subscription. The provider is
// told first; if that fails local state is left untouched.
func (s *Service) CancelSubscription(ctx context.Context, userID uint) (*models.Subscription, error) {
	if userID == 0 {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	sub, err := s.repo.FindActiveSubscriptionByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: no active subscription for user %d", ErrNotFound, userID)
		}
		return nil, err
	}

	if agreementID := sub.AgreementID(); agreementID != "" {
		gctx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
		err := s.gateway.UpdateAgreement(gctx, agreementID, models.SubscriptionStatusCancelled)
		cancel()
		if err != nil {
			log.Errorf("[Billing] Cancelling agreement %s for user %d failed: %v", agreementID, userID, err)
			return nil, fmt.Errorf("%w: cancel agreement %s: %v", ErrProvider, agreementID, err)
		}
	}

	updated, err := s.mutateSubscription(ctx, sub.ID, func(tx Repository, sub *models.Subscription) error {
		if sub.IsCancelled() {
			return nil
		}
		sub.MarkCancelled(s.now())
		if err := tx.UpdateSubscription(ctx, sub); err != nil {
			return err
		}
		return tx.UpdateUserProjection(ctx, sub.UserID, UserProjection{SubscriptionStatus: models.UserSubscriptionCancelled})
	})
	if err != nil {
		return nil, err
	}

	log.Infof("[Billing] Cancelled subscription %d for user %d", updated.ID, userID)
	return updated, nil
}

// GetUserSubscription returns the user's active subscription with its most
// recent payments.
func (s *Service) GetUserSubscription(ctx context.Context, userID uint) (*models.Subscription, error) {
	if userID == 0 {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	sub, err := s.repo.FindActiveSubscriptionByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	payments, err := s.repo.ListRecentPayments(ctx, sub.ID, recentPaymentsLimit)
	if err != nil {
		return nil, err
	}
	sub.Payments = payments
	return sub, nil
}

// mutateSubscription re-reads the subscription inside a transaction and runs
// fn on it. fn writes through tx; a version conflict rolls back and retries
// with a fresh read.
func (s *Service) mutateSubscription(ctx context.Context, id uint, fn func(tx Repository, sub *models.Subscription) error) (*models.Subscription, error) {
	var (
		out *models.Subscription
		err error
	)
	for attempt := 1; attempt <= maxMutationAttempts; attempt++ {
		err = s.repo.Transaction(ctx, func(tx Repository) error {
			sub, err := tx.GetSubscriptionByID(ctx, id)
			if err != nil {
				return err
			}
			if err := fn(tx, sub); err != nil {
				return err
			}
			out = sub
			return nil
		})
		if !errors.Is(err, ErrStaleSubscription) {
			break
		}
		log.Warnf("[Billing] Subscription %d changed concurrently (attempt %d/%d)", id, attempt, maxMutationAttempts)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func externalReference(userID uint) string {
	return externalRefPrefix + strconv.FormatUint(uint64(userID), 10)
}

func userIDFromExternalReference(ref string) uint {
	raw, ok := strings.CutPrefix(strings.TrimSpace(ref), externalRefPrefix)
	if !ok {
		return 0
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}
	return uint(id)
}
