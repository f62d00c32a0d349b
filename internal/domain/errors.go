package domain

import "errors"

// Sentinel errors shared across the module. Callers match with errors.Is.
var (
	// ErrValidation marks bad batch input rejected before any persistence.
	ErrValidation = errors.New("validation failed")

	// ErrConfig marks an inactive or malformed template configuration.
	ErrConfig = errors.New("invalid configuration")

	// ErrNotFound marks a missing record, including callbacks that reference
	// an unknown external ref.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks an optimistic update that lost the race to another
	// worker. Never surfaced to callers; the losing side discards its work.
	ErrConflict = errors.New("concurrent update conflict")

	// ErrClosed marks an event targeting a detail already in a terminal state.
	ErrClosed = errors.New("detail is closed")
)
