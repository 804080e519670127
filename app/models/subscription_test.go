package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriptionSetStatusTracksActiveSlot(t *testing.T) {
	sub := &Subscription{UserID: 42}

	sub.SetStatus(SubscriptionStatusPending)
	require.NotNil(t, sub.ActiveUserID)
	assert.Equal(t, uint(42), *sub.ActiveUserID)

	sub.SetStatus(SubscriptionStatusPaused)
	require.NotNil(t, sub.ActiveUserID)

	sub.SetStatus(SubscriptionStatusCancelled)
	assert.Nil(t, sub.ActiveUserID)

	sub.SetStatus("expired")
	assert.Nil(t, sub.ActiveUserID)
}

func TestSubscriptionMarkCancelledKeepsFirstEndDate(t *testing.T) {
	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sub := &Subscription{UserID: 7, Status: SubscriptionStatusAuthorized}

	sub.MarkCancelled(first)
	sub.MarkCancelled(first.Add(time.Hour))

	assert.True(t, sub.IsCancelled())
	require.NotNil(t, sub.EndDate)
	assert.Equal(t, first, *sub.EndDate)
}

func TestSubscriptionNextBillingAfter(t *testing.T) {
	from := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		sub  Subscription
		want time.Time
	}{
		{"monthly", Subscription{Frequency: 1, FrequencyType: FrequencyTypeMonths}, time.Date(2026, 4, 15, 10, 0, 0, 0, time.UTC)},
		{"quarterly", Subscription{Frequency: 3, FrequencyType: FrequencyTypeMonths}, time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC)},
		{"days", Subscription{Frequency: 10, FrequencyType: FrequencyTypeDays}, time.Date(2026, 3, 25, 10, 0, 0, 0, time.UTC)},
		{"zero frequency", Subscription{Frequency: 0}, time.Date(2026, 4, 15, 10, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sub.NextBillingAfter(from))
		})
	}
}

func TestSubscriptionAgreementID(t *testing.T) {
	sub := &Subscription{}
	assert.Equal(t, "", sub.AgreementID())

	id := "AGR-1"
	sub.ProviderAgreementID = &id
	assert.Equal(t, "AGR-1", sub.AgreementID())
}
