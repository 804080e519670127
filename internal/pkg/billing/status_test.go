package billing

import (
	"testing"

	"github.com/inmodash/inmodash-backend/app/models"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{models.SubscriptionStatusPending, models.SubscriptionStatusAuthorized, true},
		{models.SubscriptionStatusAuthorized, models.SubscriptionStatusPaused, true},
		{models.SubscriptionStatusPaused, models.SubscriptionStatusAuthorized, true},
		{models.SubscriptionStatusPaused, models.SubscriptionStatusCancelled, true},
		{models.SubscriptionStatusCancelled, models.SubscriptionStatusCancelled, true},
		{models.SubscriptionStatusCancelled, models.SubscriptionStatusAuthorized, false},
		{models.SubscriptionStatusCancelled, models.SubscriptionStatusPending, false},
		{"CANCELLED", "authorized", false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Fatalf("CanTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestUserStatusForAgreement(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"authorized", models.UserSubscriptionActive, true},
		{" Paused ", models.UserSubscriptionPaused, true},
		{"cancelled", models.UserSubscriptionCancelled, true},
		{"pending", "", false},
		{"something_else", "", false},
	}

	for _, tt := range tests {
		got, ok := UserStatusForAgreement(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Fatalf("UserStatusForAgreement(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}
