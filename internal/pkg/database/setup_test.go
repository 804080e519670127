package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inmodash/inmodash-backend/app/models"
)

func TestDSNFromEnv(t *testing.T) {
	t.Setenv("DB_USER", "inmo")
	t.Setenv("DB_PASSWORD", "pw")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PORT", "3307")
	t.Setenv("DB_NAME", "inmodash_db")

	assert.Equal(t, "inmo:pw@tcp(db:3307)/inmodash_db?charset=utf8mb4&parseTime=True&loc=UTC", DSNFromEnv())
}

func TestOpenSQLiteMigratesModels(t *testing.T) {
	db, err := OpenSQLite("file::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })

	for _, m := range Models() {
		assert.True(t, db.Migrator().HasTable(m))
	}
	assert.True(t, db.Migrator().HasIndex(&models.Subscription{}, "ux_subscriptions_active_user"))
	assert.True(t, db.Migrator().HasIndex(&models.BillingWebhookEvent{}, "ux_billing_webhook_events_provider_event"))
}

func TestCloseNil(t *testing.T) {
	assert.NoError(t, Close(nil))
}
