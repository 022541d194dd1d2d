package vault

import (
	"errors"
	"fmt"
)

// ErrorCode classifies adapter failures for the executor's retry policy.
type ErrorCode int

const (
	// ErrUnknown is an unclassified backend failure. Not retried.
	ErrUnknown ErrorCode = iota

	// ErrTimeout is a timed-out backend call. Retried with backoff.
	ErrTimeout

	// ErrRateLimited is a backend throttle response. Retried with backoff.
	ErrRateLimited

	// ErrNotFound is a missing record, team, or folder. Not retried.
	ErrNotFound

	// ErrAuthExpired is a lost session. Fatal: aborts the remaining plan
	// and leaves the checkpoint intact for resume.
	ErrAuthExpired
)

// String returns a short name for the code.
func (c ErrorCode) String() string {
	switch c {
	case ErrTimeout:
		return "timeout"
	case ErrRateLimited:
		return "rate_limited"
	case ErrNotFound:
		return "not_found"
	case ErrAuthExpired:
		return "auth_expired"
	default:
		return "unknown"
	}
}

// Error is a classified adapter failure.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("vault: %s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("vault: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified adapter error.
func NewError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the error code from err, or ErrUnknown if err is not a
// classified adapter error.
func CodeOf(err error) ErrorCode {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Code
	}
	return ErrUnknown
}

// IsRetryable reports whether the executor should retry the call.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case ErrTimeout, ErrRateLimited:
		return true
	}
	return false
}

// IsFatal reports whether the failure aborts the remaining plan.
func IsFatal(err error) bool {
	return CodeOf(err) == ErrAuthExpired
}
