package controllers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inmodash/inmodash-backend/app/models"
	"github.com/inmodash/inmodash-backend/internal/pkg/billing"
)

type fakeInbox struct {
	recorded   []billing.WebhookEventInput
	processed  []uint
	recordErr  error
	processErr error
	seen       map[string]bool
}

func (f *fakeInbox) RecordWebhookEvent(ctx context.Context, in billing.WebhookEventInput) (bool, *models.BillingWebhookEvent, error) {
	if f.recordErr != nil {
		return false, nil, f.recordErr
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	if in.ProviderEventID != "" && f.seen[in.ProviderEventID] {
		return false, &models.BillingWebhookEvent{ID: 1}, nil
	}
	f.seen[in.ProviderEventID] = true
	f.recorded = append(f.recorded, in)
	return true, &models.BillingWebhookEvent{ID: uint(len(f.recorded))}, nil
}

func (f *fakeInbox) ProcessWebhookEvent(ctx context.Context, id uint) error {
	f.processed = append(f.processed, id)
	return f.processErr
}

type fakeEnqueuer struct {
	ids []uint
	err error
}

func (f *fakeEnqueuer) EnqueueWebhookEvent(ctx context.Context, id uint) error {
	if f.err != nil {
		return f.err
	}
	f.ids = append(f.ids, id)
	return nil
}

func newWebhookApp(inbox WebhookInbox, queue WebhookEnqueuer, secret string) *fiber.App {
	app := fiber.New()
	wc := NewBillingWebhookController(inbox, queue, secret)
	app.Get("/api/subscriptions/webhook", wc.HandleMercadoPagoWebhook)
	app.Post("/api/subscriptions/webhook", wc.HandleMercadoPagoWebhook)
	return app
}

func postWebhook(t *testing.T, app *fiber.App, target, body string, headers map[string]string) int {
	t.Helper()
	method := fiber.MethodPost
	if body == "" {
		method = fiber.MethodGet
	}
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode
}

func TestWebhook_BodyNotificationIsQueued(t *testing.T) {
	inbox := &fakeInbox{}
	queue := &fakeEnqueuer{}
	app := newWebhookApp(inbox, queue, "")

	status := postWebhook(t, app, "/api/subscriptions/webhook",
		`{"id":12345,"type":"subscription_preapproval","action":"updated","data":{"id":"AGR-1"}}`, nil)

	assert.Equal(t, fiber.StatusOK, status)
	require.Len(t, inbox.recorded, 1)
	in := inbox.recorded[0]
	assert.Equal(t, "12345", in.ProviderEventID)
	assert.Equal(t, billing.NotificationTypePreapproval, in.Notification.Type)
	assert.Equal(t, "updated", in.Notification.Action)
	assert.Equal(t, "AGR-1", in.Notification.Data.ID)
	assert.True(t, in.SignatureValid)
	assert.Equal(t, []uint{1}, queue.ids)
	assert.Empty(t, inbox.processed)
}

func TestWebhook_QueryNotification(t *testing.T) {
	inbox := &fakeInbox{}
	app := newWebhookApp(inbox, &fakeEnqueuer{}, "")

	status := postWebhook(t, app, "/api/subscriptions/webhook?type=payment&data.id=987", "", nil)
	assert.Equal(t, fiber.StatusOK, status)

	status = postWebhook(t, app, "/api/subscriptions/webhook?topic=payment&id=988", "", map[string]string{"X-Request-Id": "req-2"})
	assert.Equal(t, fiber.StatusOK, status)

	require.Len(t, inbox.recorded, 2)
	assert.Equal(t, "payment", inbox.recorded[0].Notification.Type)
	assert.Equal(t, "987", inbox.recorded[0].Notification.Data.ID)
	assert.Equal(t, "", inbox.recorded[0].ProviderEventID)
	assert.Equal(t, "988", inbox.recorded[1].Notification.Data.ID)
	assert.Equal(t, "req-2", inbox.recorded[1].ProviderEventID)
}

func TestWebhook_DuplicateIsNotRequeued(t *testing.T) {
	inbox := &fakeInbox{}
	queue := &fakeEnqueuer{}
	app := newWebhookApp(inbox, queue, "")
	body := `{"id":"evt-1","type":"payment","data":{"id":"55"}}`

	assert.Equal(t, fiber.StatusOK, postWebhook(t, app, "/api/subscriptions/webhook", body, nil))
	assert.Equal(t, fiber.StatusOK, postWebhook(t, app, "/api/subscriptions/webhook", body, nil))

	assert.Len(t, inbox.recorded, 1)
	assert.Equal(t, []uint{1}, queue.ids)
}

func TestWebhook_ProcessesInlineWhenQueueFails(t *testing.T) {
	inbox := &fakeInbox{processErr: errors.New("provider down")}
	app := newWebhookApp(inbox, &fakeEnqueuer{err: errors.New("redis down")}, "")

	status := postWebhook(t, app, "/api/subscriptions/webhook", `{"type":"payment","data":{"id":"55"}}`, nil)

	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, []uint{1}, inbox.processed)
}

func TestWebhook_ProcessesInlineWithoutQueue(t *testing.T) {
	inbox := &fakeInbox{}
	app := newWebhookApp(inbox, nil, "")

	postWebhook(t, app, "/api/subscriptions/webhook", `{"type":"payment","data":{"id":"55"}}`, nil)
	assert.Equal(t, []uint{1}, inbox.processed)
}

func TestWebhook_AlwaysOKOnPersistFailure(t *testing.T) {
	inbox := &fakeInbox{recordErr: errors.New("db down")}
	app := newWebhookApp(inbox, &fakeEnqueuer{}, "")

	assert.Equal(t, fiber.StatusOK, postWebhook(t, app, "/api/subscriptions/webhook", `{"type":"payment","data":{"id":"1"}}`, nil))
	assert.Equal(t, fiber.StatusOK, postWebhook(t, app, "/api/subscriptions/webhook", `not json`, nil))
}

func TestWebhook_Signature(t *testing.T) {
	secret := "whsec"
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("id:agr-1;request-id:req-1;ts:1700000000;"))
	valid := "ts=1700000000,v1=" + hex.EncodeToString(mac.Sum(nil))

	inbox := &fakeInbox{}
	app := newWebhookApp(inbox, &fakeEnqueuer{}, secret)
	body := `{"type":"subscription_preapproval","data":{"id":"AGR-1"}}`

	postWebhook(t, app, "/api/subscriptions/webhook", body, map[string]string{"X-Signature": valid, "X-Request-Id": "req-1"})
	status := postWebhook(t, app, "/api/subscriptions/webhook", body, map[string]string{"X-Signature": "ts=1,v1=00", "X-Request-Id": "req-9"})

	assert.Equal(t, fiber.StatusOK, status)
	require.Len(t, inbox.recorded, 2)
	assert.True(t, inbox.recorded[0].SignatureValid)
	assert.False(t, inbox.recorded[1].SignatureValid)
}

func TestRawJSONID(t *testing.T) {
	assert.Equal(t, "", rawJSONID(nil))
	assert.Equal(t, "", rawJSONID([]byte("null")))
	assert.Equal(t, "123", rawJSONID([]byte("123")))
	assert.Equal(t, "12345678901234567", rawJSONID([]byte("12345678901234567")))
	assert.Equal(t, "abc", rawJSONID([]byte(`" abc "`)))
	assert.Equal(t, "", rawJSONID([]byte(`{}`)))
}
