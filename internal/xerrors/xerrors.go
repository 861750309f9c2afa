// Package xerrors is the kernel's error taxonomy. It re-exports the
// standard errors package so call sites only ever import one errors
// package, and adds a RetryableError marker for the "transient" error
// class of spec §7 (mutex contention, full message queues, temporarily
// exhausted interrupt slots) so callers can distinguish "try again" from
// "this will never succeed" without string-matching error text.
package xerrors

import (
	stdliberrors "errors"
)

var (
	ErrNotFound    = stdliberrors.New("exos: not found")
	ErrExhausted   = stdliberrors.New("exos: resource exhausted")
	ErrPermission  = stdliberrors.New("exos: permission denied")
	ErrInvalid     = stdliberrors.New("exos: invalid parameter")

	As     = stdliberrors.As
	Is     = stdliberrors.Is
	Join   = stdliberrors.Join
	New    = stdliberrors.New
	Unwrap = stdliberrors.Unwrap
)

// RetryableError marks an error as transient: the same operation may
// succeed if attempted again after the condition clears.
type RetryableError interface {
	error
	Retryable()
}

type retryableError struct {
	text string
}

func (r *retryableError) Error() string { return r.text }
func (r *retryableError) Retryable()    {}

// NewRetryable builds a RetryableError with the given message.
func NewRetryable(text string) RetryableError {
	return &retryableError{text}
}

// Retryable reports whether err (or something it wraps) is a
// RetryableError.
func Retryable(err error) bool {
	var rerr RetryableError
	return As(err, &rerr)
}
