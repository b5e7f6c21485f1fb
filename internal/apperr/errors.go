package apperr

import (
	"errors"
	"fmt"
)

// ErrInvalid is returned when the input fails domain validation.
var ErrInvalid = errors.New("invalid input")

// ErrConflict indicates a state precondition that no longer holds (HTTP 409).
// Lost races and stale requests end up here.
var ErrConflict = errors.New("conflict")

// ErrNotFound indicates that the requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrUnauthorized indicates the verified caller may not perform the operation.
var ErrUnauthorized = errors.New("unauthorized")

// ErrTransient marks store or downstream failures; the caller may retry.
var ErrTransient = errors.New("transient failure")

type transientError struct {
	err error
}

func (e transientError) Error() string {
	return fmt.Sprintf("%s: %v", ErrTransient.Error(), e.err)
}

func (e transientError) Unwrap() []error { return []error{ErrTransient, e.err} }

// Transient wraps err so that errors.Is(err, ErrTransient) holds.
// Domain sentinels and nil pass through untouched.
func Transient(err error) error {
	if err == nil || IsDomain(err) || errors.Is(err, ErrTransient) {
		return err
	}
	return transientError{err: err}
}

// IsDomain reports whether err is one of the terminal domain errors.
func IsDomain(err error) bool {
	return errors.Is(err, ErrInvalid) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrUnauthorized)
}
