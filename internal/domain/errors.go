package domain

import "errors"

var (
	// ErrValidation is returned when a required input is missing
	ErrValidation = errors.New("validation error")

	// ErrProvider is returned when the telephony API call fails
	ErrProvider = errors.New("telephony provider error")

	// ErrNotFound is returned for unknown conversation ids
	ErrNotFound = errors.New("conversation not found")

	// ErrCompletion marks language model failures. It never leaves the
	// completion client; callers get a fallback reply instead.
	ErrCompletion = errors.New("completion error")
)
