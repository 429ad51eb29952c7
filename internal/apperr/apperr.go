// Package apperr defines the error kinds the core returns to its callers.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindInvalid             Kind = "invalid"
	KindForbidden           Kind = "forbidden"
	KindInvalidTransition   Kind = "invalid_transition"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindExhausted           Kind = "exhausted"
	KindExpired             Kind = "expired"
	KindAlreadyUsed         Kind = "already_used"
	KindConcurrencyConflict Kind = "concurrency_conflict"
)

// Error carries a Kind and a human-readable reason. Two errors match under
// errors.Is when their kinds are equal, so the sentinel values below can be
// used as targets.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrInvalid             = &Error{Kind: KindInvalid}
	ErrForbidden           = &Error{Kind: KindForbidden}
	ErrInvalidTransition   = &Error{Kind: KindInvalidTransition}
	ErrInsufficientBalance = &Error{Kind: KindInsufficientBalance}
	ErrExhausted           = &Error{Kind: KindExhausted}
	ErrExpired             = &Error{Kind: KindExpired}
	ErrAlreadyUsed         = &Error{Kind: KindAlreadyUsed}
	ErrConcurrencyConflict = &Error{Kind: KindConcurrencyConflict}
)

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and reason to an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...), Err: err}
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

func Invalid(format string, args ...any) *Error {
	return New(KindInvalid, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return New(KindForbidden, format, args...)
}

func InvalidTransition(format string, args ...any) *Error {
	return New(KindInvalidTransition, format, args...)
}

func InsufficientBalance(format string, args ...any) *Error {
	return New(KindInsufficientBalance, format, args...)
}

// KindOf returns the kind of the first *Error in err's chain, or "" when err
// carries no kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Reason returns the reason of the first *Error in err's chain.
func Reason(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}
