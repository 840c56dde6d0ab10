package domain

import "errors"

// Error kinds returned by the booking lifecycle. Callers classify with
// errors.Is; any other error coming out of a repository is a store failure
// and is passed through unchanged.
var (
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrForbidden         = errors.New("forbidden")
	ErrNotFound          = errors.New("booking not found")
	ErrValidation        = errors.New("validation failed")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrConflict          = errors.New("booking was modified concurrently")
)
