package storage

import "errors"

var (
	// ErrDuplicateKey is returned when a journal entry or committed sequence
	// already exists. Event rows are append-only.
	ErrDuplicateKey = errors.New("duplicate key: append-only store does not allow updates")

	// ErrInvalidInput is returned when a change set or event fails validation.
	ErrInvalidInput = errors.New("invalid input")
)
