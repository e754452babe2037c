// Package errs defines the error type shared by the bridge packages.
//
// Every failure that reaches a caller is an *Error carrying a Kind. The kind
// travels in the response envelope next to the message, so Error() returns
// the message alone: for engine failures that is the verbatim text produced
// by SQLite.
package errs

import (
	"errors"
	"fmt"
)

// Kind categorises a bridge failure.
type Kind int

const (
	KindUnknown            Kind = iota
	KindMalformedArguments      // input shape violation, detected before touching the database
	KindEngineFailure           // open failure, SQL error, constraint violation, I/O error
	KindUnknownAction           // the requested action does not exist
)

func (k Kind) String() string {
	switch k {
	case KindMalformedArguments:
		return "malformed_arguments"
	case KindEngineFailure:
		return "engine_failure"
	case KindUnknownAction:
		return "unknown_action"
	default:
		return "unknown"
	}
}

// ErrNoConnection is the engine failure reported when an operation needs a
// database handle and none is open.
var ErrNoConnection = errors.New("database is not open")

// Error is the single error type returned across the bridge.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	return e.Message
}

// Unwrap allows errors.Is / errors.As to reach the engine error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Malformed reports an argument shape violation.
func Malformed(format string, a ...any) *Error {
	return &Error{Kind: KindMalformedArguments, Message: fmt.Sprintf(format, a...)}
}

// Engine wraps an error raised by the database layer. The message is the
// cause's text, unchanged.
func Engine(cause error) *Error {
	if cause == nil {
		return nil
	}
	var e *Error
	if errors.As(cause, &e) && e.Kind == KindEngineFailure {
		return e
	}
	return &Error{Kind: KindEngineFailure, Message: cause.Error(), Cause: cause}
}

// UnknownAction reports a request for an action the bridge does not serve.
func UnknownAction(action string) *Error {
	return &Error{Kind: KindUnknownAction, Message: fmt.Sprintf("unknown action: %q", action)}
}

func IsMalformedArguments(err error) bool {
	return KindOf(err) == KindMalformedArguments
}

func IsEngineFailure(err error) bool {
	return KindOf(err) == KindEngineFailure
}

func IsUnknownAction(err error) bool {
	return KindOf(err) == KindUnknownAction
}

// KindOf extracts the Kind from any error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
