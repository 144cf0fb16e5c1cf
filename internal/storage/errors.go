package storage

import "errors"

// Storage errors.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when attempting to create a record
	// at an address that is already occupied.
	ErrDuplicateKey = errors.New("duplicate key: address already occupied")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrTxDone is returned when a transaction handle is used after commit or rollback.
	ErrTxDone = errors.New("transaction already finished")
)
