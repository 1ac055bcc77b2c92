package apperrors

import "errors"

var (
	// Input
	ErrValidation = errors.New("validation failed")

	// Concurrency
	ErrRunInProgress = errors.New("an allotment run is already in progress, retry later")

	// State
	ErrNoRun         = errors.New("no allotment run exists")
	ErrRunSuperseded = errors.New("the current allotment run changed, review the new run first")

	// Auth
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("permission denied")
)
