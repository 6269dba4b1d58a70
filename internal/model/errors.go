package model

import "fmt"

// Kind is the taxonomy of engine-level errors (spec §7).
type Kind string

const (
	KindValidation      Kind = "validation_error"
	KindNotFound        Kind = "not_found"
	KindForbidden       Kind = "forbidden"
	KindConflict        Kind = "conflict"
	KindTimeout         Kind = "timeout"
	KindDatabase        Kind = "database_error"
	KindEncryption      Kind = "encryption_error"
	KindInvalidState    Kind = "invalid_state"
	KindModelFailure    Kind = "model_failure"
)

// Error is the engine's typed error, carrying a Kind for HTTP-surface mapping
// (spec §7) without ever echoing prompt content, test-case input, or keys.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds an *Error of the given kind.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}
