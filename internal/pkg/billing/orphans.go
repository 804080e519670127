package billing

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/inmodash/inmodash-backend/app/models"
)

// orphanGracePeriod skips agreements young enough that their local write may
// still be in flight.
const orphanGracePeriod = 2 * time.Minute

// SweepOrphanedAgreements compares provider agreements created since the given
// time with local subscriptions and records every agreement that has none.
// It returns how many new orphans were recorded.
func (s *Service) SweepOrphanedAgreements(ctx context.Context, since time.Time) (int, error) {
	agreements, err := s.gateway.SearchAgreements(ctx, since)
	if err != nil {
		return 0, err
	}

	cutoff := s.now().Add(-orphanGracePeriod)
	recorded := 0
	for i := range agreements {
		a := &agreements[i]
		if a.ID == "" {
			continue
		}
		if a.DateCreated != nil && a.DateCreated.After(cutoff) {
			continue
		}
		_, err := s.repo.GetSubscriptionByAgreementID(ctx, a.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return recorded, err
		}
		if s.recordOrphan(ctx, a, userIDFromExternalReference(a.ExternalReference), a.PayerEmail, "no local subscription for provider agreement") {
			recorded++
		}
	}
	if recorded > 0 {
		log.Warnf("[Billing] Orphan sweep found %d agreement(s) without a local subscription", recorded)
	}
	return recorded, nil
}

// recordOrphan stores an orphaned agreement for operator follow-up. Failures
// are logged; it reports whether a new row was written.
func (s *Service) recordOrphan(ctx context.Context, a *Agreement, userID uint, email, reason string) bool {
	if a == nil || a.ID == "" {
		return false
	}
	created, err := s.repo.CreateOrphanedAgreementIfNotExists(ctx, &models.OrphanedAgreement{
		Provider:            models.BillingProviderMercadoPago,
		ProviderAgreementID: a.ID,
		UserID:              userID,
		PayerEmail:          email,
		RemoteStatus:        a.Status,
		Reason:              reason,
	})
	if err != nil {
		log.Errorf("[Billing] Recording orphaned agreement %s failed: %v", a.ID, err)
		return false
	}
	if created {
		log.Warnf("[Billing] Orphaned agreement %s recorded (user %d): %s", a.ID, userID, reason)
	}
	return created
}
