package amm

import "errors"

var (
	ErrNoLiquidity        = errors.New("pool has no liquidity")
	ErrSlippageExceeded   = errors.New("output below minimum")
	ErrUnbalancedRatio    = errors.New("deposit ratio outside tolerance")
	ErrInsufficientShares = errors.New("insufficient LP shares")
	ErrUnknownAsset       = errors.New("asset not in pool")
	ErrZeroAmount         = errors.New("amount must be positive")
	ErrReserveDrained     = errors.New("operation would drain a reserve")
)
