package exchange

import "errors"

var (
	ErrPoolNotFound      = errors.New("pool not found")
	ErrPoolAlreadyExists = errors.New("pool already exists")
	ErrInvalidPairing    = errors.New("pool must pair a secondary asset with the base currency")
)
