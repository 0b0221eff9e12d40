package entities

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrShopNotFound    = errors.New("shop not found")
	ErrProductNotFound = errors.New("product not found")

	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	ErrValidation        = errors.New("validation error")
	ErrStockInsufficient = errors.New("stock insufficient")
	ErrServiceDisabled   = errors.New("service disabled")
	ErrCapacityExceeded  = errors.New("capacity exceeded")

	ErrIdempotencyConflict = errors.New("idempotency key already used")

	ErrStateConflict     = errors.New("state conflict")
	ErrAdjustmentPending = errors.New("weight adjustment awaiting buyer confirmation")
)

// StateConflictError reports the currently persisted status so the caller
// can resynchronize after losing a race or attempting an illegal transition.
type StateConflictError struct {
	Current OrderStatus
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("state conflict: order is %s", e.Current)
}

func (e *StateConflictError) Is(target error) bool {
	return target == ErrStateConflict
}

func NewStateConflict(current OrderStatus) error {
	return &StateConflictError{Current: current}
}
