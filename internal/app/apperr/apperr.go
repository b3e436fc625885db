// Package apperr defines the small set of error kinds the coordinator's
// services return, so the HTTP layer can map them to status codes without
// string-matching error messages.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for status-code mapping and logging.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindNotFound           Kind = "not_found"
	KindConflict           Kind = "conflict"
	KindTransient          Kind = "transient"
	KindStale              Kind = "stale"
	KindVerificationFailed Kind = "verification_failed"
	KindIntegrity          Kind = "integrity"
)

// Error wraps a cause with a Kind so callers can classify it with errors.As
// instead of inspecting message text.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an Error of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validationf builds a KindValidation error with a formatted message.
func Validationf(op, format string, args ...any) *Error {
	return New(KindValidation, op, fmt.Errorf(format, args...))
}

// NotFoundf builds a KindNotFound error with a formatted message.
func NotFoundf(op, format string, args ...any) *Error {
	return New(KindNotFound, op, fmt.Errorf(format, args...))
}

// Conflictf builds a KindConflict error with a formatted message.
func Conflictf(op, format string, args ...any) *Error {
	return New(KindConflict, op, fmt.Errorf(format, args...))
}

// Stalef builds a KindStale error with a formatted message.
func Stalef(op, format string, args ...any) *Error {
	return New(KindStale, op, fmt.Errorf(format, args...))
}

// VerificationFailedf builds a KindVerificationFailed error.
func VerificationFailedf(op, format string, args ...any) *Error {
	return New(KindVerificationFailed, op, fmt.Errorf(format, args...))
}

// Integrityf builds a KindIntegrity error, used for checksum/signature
// failures in the release pipeline.
func Integrityf(op, format string, args ...any) *Error {
	return New(KindIntegrity, op, fmt.Errorf(format, args...))
}

// Wrap tags an existing error (typically from storage) as transient,
// meaning the caller may retry.
func Wrap(op string, err error) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return existing
	}
	return New(KindTransient, op, err)
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, and false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
