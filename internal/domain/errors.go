package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyCart rejects a placement with no line items before any store call.
	ErrEmptyCart = errors.New("cart is empty")

	// ErrInvalidTable rejects a non-positive table number before any store call.
	ErrInvalidTable = errors.New("table number must be positive")

	// ErrOrderNotFound means the order id did not resolve to a document.
	ErrOrderNotFound = errors.New("order not found")

	// ErrStoreUnavailable wraps transient store I/O failures. Safe for the
	// caller to retry; the lifecycle manager does not retry it internally.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrConcurrentModification is surfaced after the internal retry budget
	// for conditional-write conflicts is exhausted.
	ErrConcurrentModification = errors.New("concurrent modification")
)

// InvalidTransitionError reports a status change not permitted by the order
// state machine, including the pair that was requested.
type InvalidTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %s to %s", e.From, e.To)
}

// InvariantViolationError means more than one open order was found for a
// table. The one-open-order invariant was already broken before this call;
// it is fatal and never auto-repaired.
type InvariantViolationError struct {
	TableNumber int
	Count       int
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("found %d open orders for table %d, expected at most 1", e.Count, e.TableNumber)
}
