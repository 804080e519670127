package jobqueue

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/inmodash/inmodash-backend/app/models"
	"github.com/inmodash/inmodash-backend/internal/pkg/billing"
)

// WebhookEventProcessor runs and loads stored billing webhook inbox rows
type WebhookEventProcessor interface {
	ProcessWebhookEvent(ctx context.Context, webhookEventID uint) error
	WebhookEvent(ctx context.Context, webhookEventID uint) (*models.BillingWebhookEvent, error)
}

// WebhookArchiver stores the raw payload of an inbox row
type WebhookArchiver interface {
	ArchiveWebhookEvent(ctx context.Context, ev *models.BillingWebhookEvent) (string, error)
}

// NewBillingWebhookHandler processes billing_webhook jobs. Only retryable
// failures fail the job; the rest are already recorded on the inbox row.
func NewBillingWebhookHandler(p WebhookEventProcessor) Handler {
	return func(ctx context.Context, job *Job) error {
		payload, err := webhookPayload(job)
		if err != nil {
			return err
		}

		err = p.ProcessWebhookEvent(ctx, payload.WebhookEventID)
		if err == nil {
			return nil
		}
		if billing.IsRetryable(err) {
			return err
		}
		log.Warnf("[JobQueue] Webhook event %d not retried: %v", payload.WebhookEventID, err)
		return nil
	}
}

// NewWebhookArchiveHandler processes webhook_archive jobs
func NewWebhookArchiveHandler(p WebhookEventProcessor, a WebhookArchiver) Handler {
	return func(ctx context.Context, job *Job) error {
		payload, err := webhookPayload(job)
		if err != nil {
			return err
		}

		ev, err := p.WebhookEvent(ctx, payload.WebhookEventID)
		if err != nil {
			return fmt.Errorf("load webhook event %d: %w", payload.WebhookEventID, err)
		}
		_, err = a.ArchiveWebhookEvent(ctx, ev)
		return err
	}
}

func webhookPayload(job *Job) (*WebhookJobPayload, error) {
	payload, err := WebhookJobPayloadFromMap(job.Payload)
	if err != nil {
		return nil, fmt.Errorf("invalid payload for job %s: %w", job.ID, err)
	}
	if payload.WebhookEventID == 0 {
		return nil, fmt.Errorf("job %s has no webhook event id", job.ID)
	}
	return payload, nil
}
