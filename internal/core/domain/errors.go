package domain

import "errors"

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	// ErrConflict covers duplicate ids and optimistic lock failures.
	ErrConflict = errors.New("conflict")
	ErrIO       = errors.New("storage failure")
	ErrPublish  = errors.New("event publication failed")
	ErrDecode   = errors.New("event decode failed")

	ErrReservedInventoryUnderflow = errors.New("reserved inventory is already zero")
)
