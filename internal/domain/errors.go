package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors used throughout the application.
// Handlers translate these to HTTP status codes via a single mapError function.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict: a request with this idempotency key is still in flight, retry later")
	ErrUnauthorized = errors.New("authentication failed")

	// ErrValidation is wrapped by every payload validation error so callers
	// can match the whole family with errors.Is.
	ErrValidation            = errors.New("validation failed")
	ErrMissingIdempotencyKey = fmt.Errorf("%w: Idempotency-Key header is required", ErrValidation)
	ErrIdempotencyKeyTooLong = fmt.Errorf("%w: Idempotency-Key must be at most %d characters", ErrValidation, MaxIdempotencyKeyLength)
	ErrInvalidTitle          = fmt.Errorf("%w: title must be between 1 and %d characters", ErrValidation, MaxTitleLength)
	ErrInvalidHTMLContent    = fmt.Errorf("%w: html_content must not be empty", ErrValidation)
	ErrInvalidTextContent    = fmt.Errorf("%w: text_content must not be empty", ErrValidation)
)
