package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/inmodash/inmodash-backend/app/models"
)

// MaxWebhookAttempts caps how often one inbox row is processed.
const MaxWebhookAttempts = 5

// maxClaimedEventIDLen keeps unsigned event ids within the column size.
const maxClaimedEventIDLen = 100

var errInvalidSignature = errors.New("webhook signature is invalid")

// RecordWebhookEvent persists a delivery idempotently. Deliveries without a
// provider event id get a random one and are never deduplicated. Unsigned
// deliveries never claim the event id, so a forged request cannot shadow the
// genuine delivery.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.BillingWebhookEvent, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		provider = models.BillingProviderMercadoPago
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	switch {
	case eventID == "":
		eventID = "delivery:" + uuid.NewString()
	case !in.SignatureValid:
		if len(eventID) > maxClaimedEventIDLen {
			eventID = eventID[:maxClaimedEventIDLen]
		}
		eventID = "unsigned:" + eventID + ":" + uuid.NewString()
	}

	event := &models.BillingWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.ToLower(strings.TrimSpace(in.Notification.Type)),
		Action:          strings.TrimSpace(in.Notification.Action),
		ResourceID:      strings.TrimSpace(in.Notification.Data.ID),
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
	}
	return s.repo.CreateWebhookEventIfNotExists(ctx, event)
}

// ProcessWebhookEvent runs the reconciler for a stored inbox row and records
// the outcome on it. Rows already processed successfully are skipped.
func (s *Service) ProcessWebhookEvent(ctx context.Context, eventID uint) error {
	ev, err := s.repo.GetWebhookEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if ev.IsProcessedSuccessfully() {
		return nil
	}
	if !ev.SignatureValid {
		log.Warnf("[Billing] Webhook event %d has an invalid signature, not processing", ev.ID)
		return s.MarkWebhookProcessed(ctx, ev.ID, errInvalidSignature)
	}

	procErr := s.ProcessWebhook(ctx, WebhookNotification{
		Type:   ev.EventType,
		Action: ev.Action,
		Data:   WebhookEventData{ID: ev.ResourceID},
	})
	if procErr != nil {
		log.Errorf("[Billing] Webhook event %d (%s %s) failed: %v", ev.ID, ev.EventType, ev.ResourceID, procErr)
	}
	if err := s.MarkWebhookProcessed(ctx, ev.ID, procErr); err != nil {
		log.Errorf("[Billing] Marking webhook event %d processed failed: %v", ev.ID, err)
	}
	return procErr
}

// WebhookEvent loads one inbox row.
func (s *Service) WebhookEvent(ctx context.Context, eventID uint) (*models.BillingWebhookEvent, error) {
	return s.repo.GetWebhookEvent(ctx, eventID)
}

// MarkWebhookProcessed stores the processing outcome of an inbox row.
// Errors that a retry cannot fix are stored as final.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	if webhookEventID == 0 {
		return fmt.Errorf("%w: webhook event id is required", ErrValidation)
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
		if !IsRetryable(processingErr) {
			errMsg = finalErrorPrefix + errMsg
		}
	}
	return s.repo.MarkWebhookProcessed(ctx, webhookEventID, errMsg)
}

// RedrivableWebhookEvents lists inbox rows older than olderThan that never
// completed or failed with a retryable error.
func (s *Service) RedrivableWebhookEvents(ctx context.Context, olderThan time.Time, limit int) ([]models.BillingWebhookEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.repo.ListRedrivableWebhookEvents(ctx, olderThan, MaxWebhookAttempts, limit)
}

// IsRetryable reports whether processing may succeed when attempted again.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrReconciliationGap) &&
		!errors.Is(err, ErrValidation) &&
		!errors.Is(err, errInvalidSignature)
}
