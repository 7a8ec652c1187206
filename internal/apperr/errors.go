package apperr

import "errors"

// Sentinel errors for the coordination core. Callers classify failures with
// errors.Is; the HTTP layer maps them to status codes.
var (
	// ErrBusy means the stock lock is held by another request. Retryable.
	ErrBusy = errors.New("resource busy")

	// ErrInsufficientStock is a business rejection, not a transient fault.
	// Retrying with the same quantity will fail again.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrNotFound signals a data-integrity problem upstream, e.g. an order
	// referencing inventory that was never listed.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidTransition rejects an order status update that is not a
	// directed edge in the transition table.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrConflict surfaces after the bounded optimistic-save retry budget
	// is exhausted.
	ErrConflict = errors.New("version conflict")

	// ErrDuplicate marks an idempotency hit. Not a failure: the caller
	// returns the prior result.
	ErrDuplicate = errors.New("duplicate request")

	// ErrAmountMismatch rejects an order whose monetary breakdown does not
	// reconcile (subtotal vs item totals, or the grand total formula).
	ErrAmountMismatch = errors.New("order amounts do not reconcile")
)
