package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"

	"github.com/inmodash/inmodash-backend/app/models"
)

// ProcessWebhook dispatches a provider notification. The notification only
// names the resource; state is always re-read from the gateway. Returned
// errors are for logging and re-drive, never for the provider.
func (s *Service) ProcessWebhook(ctx context.Context, n WebhookNotification) error {
	eventType := strings.ToLower(strings.TrimSpace(n.Type))
	resourceID := strings.TrimSpace(n.Data.ID)

	switch eventType {
	case NotificationTypePreapproval:
		if resourceID == "" {
			return fmt.Errorf("%w: %s notification without data.id", ErrValidation, eventType)
		}
		return s.ReconcileAgreement(ctx, resourceID)
	case NotificationTypeAuthorizedPayment, NotificationTypePayment:
		if resourceID == "" {
			return fmt.Errorf("%w: %s notification without data.id", ErrValidation, eventType)
		}
		return s.ReconcilePayment(ctx, resourceID)
	default:
		log.Infof("[Billing] Ignoring webhook type=%q action=%q", n.Type, n.Action)
		return nil
	}
}

// ReconcileAgreement applies the provider's current agreement status to the
// local subscription. Applying the same status again writes nothing.
func (s *Service) ReconcileAgreement(ctx context.Context, agreementID string) error {
	gctx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	remote, err := s.gateway.GetAgreement(gctx, agreementID)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: get agreement %s: %v", ErrProvider, agreementID, err)
	}
	status := normalizeStatus(remote.Status)
	if status == "" {
		return fmt.Errorf("%w: agreement %s has no status", ErrProvider, agreementID)
	}

	local, err := s.repo.GetSubscriptionByAgreementID(ctx, agreementID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Warnf("[Billing] Agreement %s (status %s) has no local subscription", agreementID, status)
			return fmt.Errorf("%w: agreement %s not found locally", ErrReconciliationGap, agreementID)
		}
		return err
	}

	_, err = s.mutateSubscription(ctx, local.ID, func(tx Repository, sub *models.Subscription) error {
		if !CanTransition(sub.Status, status) {
			log.Warnf("[Billing] Subscription %d is %s, ignoring remote status %s", sub.ID, sub.Status, status)
			return nil
		}

		changed := false
		if sub.Status != status {
			sub.SetStatus(status)
			changed = true
		}
		if status == models.SubscriptionStatusAuthorized && sub.IsTrialActive {
			sub.IsTrialActive = false
			changed = true
		}
		if status == models.SubscriptionStatusCancelled && sub.EndDate == nil {
			sub.MarkCancelled(s.now())
			changed = true
		}
		if !changed {
			return nil
		}

		if err := tx.UpdateSubscription(ctx, sub); err != nil {
			return err
		}
		if userStatus, ok := UserStatusForAgreement(status); ok {
			if err := tx.UpdateUserProjection(ctx, sub.UserID, UserProjection{SubscriptionStatus: userStatus}); err != nil {
				return err
			}
		}
		log.Infof("[Billing] Subscription %d now %s (agreement %s)", sub.ID, status, agreementID)
		return nil
	})
	return err
}

// ReconcilePayment records a provider payment in the ledger once and updates
// the subscription's payment fields. Duplicate deliveries stop at the ledger
// insert.
func (s *Service) ReconcilePayment(ctx context.Context, paymentID string) error {
	gctx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	payment, err := s.gateway.GetPayment(gctx, paymentID)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: get payment %s: %v", ErrProvider, paymentID, err)
	}

	if payment.AgreementID == "" {
		log.Warnf("[Billing] Payment %s carries no agreement id, skipping", paymentID)
		return fmt.Errorf("%w: payment %s has no agreement id", ErrReconciliationGap, paymentID)
	}

	local, err := s.repo.GetSubscriptionByAgreementID(ctx, payment.AgreementID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Warnf("[Billing] Payment %s references unknown agreement %s", paymentID, payment.AgreementID)
			return fmt.Errorf("%w: agreement %s of payment %s not found locally", ErrReconciliationGap, payment.AgreementID, paymentID)
		}
		return err
	}

	providerPaymentID := payment.ID
	if providerPaymentID == "" {
		providerPaymentID = paymentID
	}
	currency := payment.Currency
	if currency == "" {
		currency = local.Currency
	}

	_, err = s.mutateSubscription(ctx, local.ID, func(tx Repository, sub *models.Subscription) error {
		created, err := tx.CreatePaymentIfNotExists(ctx, &models.SubscriptionPayment{
			SubscriptionID:    sub.ID,
			ProviderPaymentID: providerPaymentID,
			Amount:            payment.Amount,
			Currency:          currency,
			Status:            payment.Status,
			StatusDetail:      payment.StatusDetail,
			PaymentMethodID:   payment.PaymentMethodID,
			PaymentType:       payment.PaymentType,
			PaidAt:            payment.PaidAt,
			RawPayloadJSON:    string(payment.Raw),
		})
		if err != nil {
			return err
		}
		if !created {
			log.Infof("[Billing] Payment %s already recorded", providerPaymentID)
			return nil
		}

		now := s.now()
		sub.LastPaymentDate = timePtr(now)
		sub.LastPaymentStatus = payment.Status
		sub.LastPaymentAmount = decimal.NewNullDecimal(payment.Amount)

		var projection UserProjection
		if payment.Status == models.PaymentStatusApproved && !sub.IsCancelled() {
			next := sub.NextBillingAfter(now)
			sub.NextBillingDate = timePtr(next)
			projection = UserProjection{
				SubscriptionStatus: models.UserSubscriptionActive,
				LastPaymentDate:    timePtr(now),
				NextPaymentDate:    timePtr(next),
			}
		}

		if err := tx.UpdateSubscription(ctx, sub); err != nil {
			return err
		}
		if err := tx.UpdateUserProjection(ctx, sub.UserID, projection); err != nil {
			return err
		}
		log.Infof("[Billing] Recorded payment %s (%s) for subscription %d", providerPaymentID, payment.Status, sub.ID)
		return nil
	})
	return err
}
