package shared

import "errors"

var (
	// ErrValidation indicates malformed or semantically invalid input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState indicates an operation against an aggregate in the wrong lifecycle state.
	ErrInvalidState = errors.New("invalid state")
	// ErrConflict indicates a uniqueness or idempotency invariant would be violated.
	ErrConflict = errors.New("conflict")
	// ErrOverAllocation indicates a FIFO payment exceeds the client's total open balance.
	ErrOverAllocation = errors.New("over-allocation")
)
