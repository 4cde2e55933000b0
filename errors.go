package custody

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure scenarios. Every failure is terminal
// for the attempted operation: no partial state is retained and no retry
// happens inside the engine.
var (
	// General errors
	ErrNotFound     = errors.New("custody: not found")
	ErrInvalidInput = errors.New("custody: invalid input")
	ErrUnauthorized = errors.New("custody: unauthorized")

	// Governance errors
	ErrPaused             = errors.New("custody: treasury is paused")
	ErrAlreadyInitialized = errors.New("custody: treasury already initialized")
	ErrNotInitialized     = errors.New("custody: treasury not initialized")

	// Settlement errors
	ErrInvalidAmount         = errors.New("custody: amount must be greater than zero")
	ErrInsufficientFunds     = errors.New("custody: insufficient funds")
	ErrInvalidAccountBinding = errors.New("custody: balance container does not match its canonical derivation")
	ErrMathOverflow          = errors.New("custody: math overflow detected")

	// Receipt errors
	ErrAddressOccupied  = errors.New("custody: address already occupied")
	ErrDuplicateReceipt = fmt.Errorf("custody: duplicate receipt: %w", ErrAddressOccupied)
	ErrReceiptNotFound  = errors.New("custody: receipt not found")
	ErrMemoTooLong      = errors.New("custody: memo exceeds 64 bytes")

	// Actor errors
	ErrActorNotFound = errors.New("custody: actor profile not found")

	// Store errors
	ErrBalanceNotFound = errors.New("custody: balance container not found")
	ErrStoreNotReady   = errors.New("custody: store not ready")
	ErrStoreClosed     = errors.New("custody: store is closed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("custody: validation failed for %s: %s", e.Field, e.Message)
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrNotInitialized) ||
		errors.Is(err, ErrReceiptNotFound) ||
		errors.Is(err, ErrActorNotFound) ||
		errors.Is(err, ErrBalanceNotFound)
}

// IsReplayConflict returns true if the error means a receipt address was
// already claimed: nonce reuse, or losing a race for the same nonce.
func IsReplayConflict(err error) bool {
	return errors.Is(err, ErrAddressOccupied)
}

// IsRejectedSettlement returns true if the error is a settlement
// precondition failure (as opposed to an infrastructure fault).
func IsRejectedSettlement(err error) bool {
	return errors.Is(err, ErrPaused) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInvalidAccountBinding) ||
		errors.Is(err, ErrAddressOccupied) ||
		errors.Is(err, ErrMemoTooLong)
}
