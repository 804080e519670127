package controllers

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/inmodash/inmodash-backend/app/models"
	"github.com/inmodash/inmodash-backend/internal/pkg/billing"
)

const webhookRequestTimeout = 15 * time.Second

// WebhookInbox stores and processes webhook deliveries
type WebhookInbox interface {
	RecordWebhookEvent(ctx context.Context, in billing.WebhookEventInput) (bool, *models.BillingWebhookEvent, error)
	ProcessWebhookEvent(ctx context.Context, webhookEventID uint) error
}

// WebhookEnqueuer hands a stored delivery to the background workers
type WebhookEnqueuer interface {
	EnqueueWebhookEvent(ctx context.Context, webhookEventID uint) error
}

// BillingWebhookController receives MercadoPago notifications. It always
// answers 200 so the provider does not retry; failed deliveries are re-driven
// from the inbox.
type BillingWebhookController struct {
	inbox  WebhookInbox
	queue  WebhookEnqueuer
	secret string
}

// NewBillingWebhookController wires the inbox. A nil queue processes inline;
// an empty secret disables signature verification.
func NewBillingWebhookController(inbox WebhookInbox, queue WebhookEnqueuer, secret string) *BillingWebhookController {
	return &BillingWebhookController{inbox: inbox, queue: queue, secret: secret}
}

type mercadoPagoWebhookBody struct {
	ID     json.RawMessage `json:"id"`
	Type   string          `json:"type"`
	Topic  string          `json:"topic"`
	Action string          `json:"action"`
	Data   struct {
		ID json.RawMessage `json:"id"`
	} `json:"data"`
}

func (wc *BillingWebhookController) HandleMercadoPagoWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.Body()...)

	var body mercadoPagoWebhookBody
	if len(rawBody) > 0 {
		if err := json.Unmarshal(rawBody, &body); err != nil {
			log.Warnf("[Billing] Webhook body is not JSON: %v", err)
		}
	}

	// Query and header values point into the request buffer; the
	// notification outlives the handler.
	notification := billing.WebhookNotification{
		Type:   utils.CopyString(firstNonEmpty(c.Query("type"), c.Query("topic"), body.Type, body.Topic)),
		Action: body.Action,
		Data:   billing.WebhookEventData{ID: utils.CopyString(firstNonEmpty(c.Query("data.id"), rawJSONID(body.Data.ID), c.Query("id")))},
	}
	requestID := utils.CopyString(firstHeaderValue(c, "X-Request-Id"))
	eventID := firstNonEmpty(rawJSONID(body.ID), requestID)

	signatureValid := true
	if wc.secret != "" {
		signatureValid = billing.VerifyMercadoPagoWebhookSignature(c.Get("X-Signature"), requestID, notification.Data.ID, wc.secret)
	}

	payload := string(rawBody)
	if payload == "" {
		payload = string(c.Request().URI().QueryString())
	}

	ctx, cancel := context.WithTimeout(context.Background(), webhookRequestTimeout)
	defer cancel()

	log.Infof("[Billing] Received MercadoPago webhook type=%q id=%q", notification.Type, notification.Data.ID)
	created, stored, err := wc.inbox.RecordWebhookEvent(ctx, billing.WebhookEventInput{
		Provider:        models.BillingProviderMercadoPago,
		ProviderEventID: eventID,
		Notification:    notification,
		PayloadJSON:     payload,
		SignatureValid:  signatureValid,
	})
	if err != nil {
		log.Errorf("[Billing] Persisting webhook failed: %v", err)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"success": false})
	}
	if !created {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"success": true, "duplicate": true})
	}

	if wc.queue != nil {
		err := wc.queue.EnqueueWebhookEvent(ctx, stored.ID)
		if err == nil {
			return c.Status(fiber.StatusOK).JSON(fiber.Map{"success": true})
		}
		log.Warnf("[Billing] Enqueue of webhook event %d failed, processing inline: %v", stored.ID, err)
	}

	if err := wc.inbox.ProcessWebhookEvent(ctx, stored.ID); err != nil {
		log.Warnf("[Billing] Webhook event %d left for re-drive: %v", stored.ID, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"success": true})
}

// rawJSONID renders a JSON string or number id as plain text
func rawJSONID(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return strings.TrimSpace(str)
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		return num.String()
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
