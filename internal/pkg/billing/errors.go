package billing

import "errors"

// Error kinds surfaced by the billing service. Callers match them with
// errors.Is; the wrapped message carries the detail.
var (
	ErrValidation        = errors.New("validation error")
	ErrConflict          = errors.New("conflict")
	ErrNotFound          = errors.New("not found")
	ErrProvider          = errors.New("payment provider error")
	ErrReconciliationGap = errors.New("reconciliation gap")

	// ErrStaleSubscription is returned by Repository.UpdateSubscription when the
	// row changed since it was read.
	ErrStaleSubscription = errors.New("subscription was modified concurrently")
)
