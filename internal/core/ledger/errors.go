package ledger

import "errors"

var (
	ErrUnknownAccount      = errors.New("unknown account")
	ErrUnknownSender       = errors.New("unknown sender account")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientReserve = errors.New("insufficient reward pool reserve")
	ErrAmountOverflow      = errors.New("amount overflow")
	ErrBurnSinkRestricted  = errors.New("burn sink only participates in burns")
	ErrConservation        = errors.New("conservation invariant violated")
)
