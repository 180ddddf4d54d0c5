package reservation

import "errors"

var (
	ErrNotFound             = errors.New("reservation not found")
	ErrAlreadyTerminal      = errors.New("reservation already finalized or cancelled")
	ErrInsufficientForTopUp = errors.New("insufficient balance for reservation top-up")
	ErrZeroEstimate         = errors.New("reservation estimate must be positive")
)
