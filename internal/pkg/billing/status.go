package billing

import (
	"strings"

	"github.com/inmodash/inmodash-backend/app/models"
)

// CanTransition reports whether a subscription in status from may move to
// status to. Cancelled is terminal; every other move follows the provider.
func CanTransition(from, to string) bool {
	from = normalizeStatus(from)
	to = normalizeStatus(to)
	if from == to {
		return true
	}
	return from != models.SubscriptionStatusCancelled
}

// UserStatusForAgreement maps a remote agreement status to the user projection
// value. ok is false when the status has no projection side effect.
func UserStatusForAgreement(status string) (string, bool) {
	switch normalizeStatus(status) {
	case models.SubscriptionStatusAuthorized:
		return models.UserSubscriptionActive, true
	case models.SubscriptionStatusPaused:
		return models.UserSubscriptionPaused, true
	case models.SubscriptionStatusCancelled:
		return models.UserSubscriptionCancelled, true
	default:
		return "", false
	}
}

func normalizeStatus(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
