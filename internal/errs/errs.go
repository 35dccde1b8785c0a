// Package errs defines the tagged error kinds shared across the memory
// server. Handlers and background tasks classify failures into one of a
// small set of kinds so the dispatcher and logger can react uniformly
// instead of pattern-matching on error strings.
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of the eight recognized error classes.
type Kind string

const (
	Validation    Kind = "validation"
	Database      Kind = "database"
	Cache         Kind = "cache"
	Protocol      Kind = "protocol"
	Configuration Kind = "configuration"
	FileSystem    Kind = "filesystem"
	Resource      Kind = "resource"
	Unknown       Kind = "unknown"
)

// Error is the tagged error type carried through the system. Context keys
// are free-form (field, operation, path, native code) per the caller's need.
type Error struct {
	Kind     Kind
	Code     string
	Message  string
	Recovery string
	Context  map[string]string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// With returns a copy of e with an additional context key set.
func (e *Error) With(key, value string) *Error {
	n := *e
	n.Context = make(map[string]string, len(e.Context)+1)
	for k, v := range e.Context {
		n.Context[k] = v
	}
	n.Context[key] = value
	return &n
}

func newErr(kind Kind, code, message, recovery string) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Recovery: recovery}
}

// New constructs a bare tagged error with no wrapped cause.
func New(kind Kind, code, message, recovery string) *Error {
	return newErr(kind, code, message, recovery)
}

// Wrap tags an underlying error with a kind and infers the recovery hint
// from that kind. Wrap(nil, ...) returns nil.
func Wrap(cause error, kind Kind, operation string) *Error {
	if cause == nil {
		return nil
	}
	e := newErr(kind, string(kind), operation, recoveryHint(kind, cause))
	e.Cause = cause
	e.Context = map[string]string{"operation": operation}
	return e
}

// recoveryHint gives a best-effort, human-readable suggestion keyed on the
// error kind. It never inspects driver-specific error codes directly; that
// classification happens at the call site (see store.classifyOpenErr) where
// the native error is available.
func recoveryHint(kind Kind, cause error) string {
	switch kind {
	case Validation:
		return "check the argument value against the tool's constraints and retry"
	case Database:
		return "check the database file path and permissions; if the file appears corrupt, restore from backup"
	case Cache:
		return "no action needed; the cache falls through to the durable store"
	case Protocol:
		return "check the request's JSON-RPC framing and method name"
	case Configuration:
		return "check environment variables and the config file for invalid values"
	case FileSystem:
		return "check available disk space and file permissions"
	case Resource:
		return "the server is near a configured limit; retry later or raise the limit"
	default:
		return "see logs for details"
	}
}

// Validationf builds a Validation-kind error for a single bad field.
func Validationf(field, value, format string, args ...any) *Error {
	e := newErr(Validation, "validation_error", fmt.Sprintf(format, args...), recoveryHint(Validation, nil))
	e.Context = map[string]string{"field": field, "value": value}
	return e
}

// As reports whether err (or something it wraps) is an *Error, populating target.
func As(err error, target **Error) bool {
	return errors.As(err, target)
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, else Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}
