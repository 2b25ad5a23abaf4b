package domain

import "errors"

// Error taxonomy for ledger operations. These are sentinel values so callers
// can distinguish failure categories with errors.Is; everything else that
// bubbles out of the ledger (storage failures etc.) is wrapped and fatal.
var (
	// ErrUnknownSecurity - a referenced ticker does not resolve to a known security.
	ErrUnknownSecurity = errors.New("unknown security")

	// ErrNotFound - a lot, disposal or account reference does not exist.
	ErrNotFound = errors.New("not found")

	// ErrImmutable - attempted edit or delete of an activity-sourced lot.
	ErrImmutable = errors.New("activity-sourced lot is immutable")

	// ErrInvalidQuantity - an edit would drive current_quantity negative or
	// retroactively invalidate recorded disposals.
	ErrInvalidQuantity = errors.New("invalid quantity")

	// ErrOwnershipMismatch - a referenced lot does not belong to the stated
	// account or security.
	ErrOwnershipMismatch = errors.New("lot ownership mismatch")

	// ErrQuantityMismatch - a reassignment's new total does not equal the
	// original group total.
	ErrQuantityMismatch = errors.New("reassignment quantity mismatch")

	// ErrGroupNotFound - no disposals exist under the given group id.
	ErrGroupNotFound = errors.New("disposal group not found")

	// ErrConflict - a concurrent write was detected during a multi-row
	// transaction. Retryable: callers should retry the whole operation.
	ErrConflict = errors.New("concurrent write conflict")
)
