// Package apperr defines the typed error kinds surfaced to tool callers.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error the way the dispatcher and REST surface report it.
type Kind string

const (
	NotFound          Kind = "not_found"
	AlreadyExists     Kind = "already_exists"
	InvalidArgument   Kind = "invalid_argument"
	Unauthorized      Kind = "unauthorized"
	Forbidden         Kind = "forbidden"
	QuotaExceeded     Kind = "quota_exceeded"
	DependencyFailure Kind = "dependency_failure"
	Conflict          Kind = "conflict"
	InternalKind      Kind = "internal"
)

// Error is the typed application error. It wraps an underlying cause so
// callers can still errors.Is/errors.As through to store-level sentinels.
type Error struct {
	Kind       Kind
	Message    string
	Dependency string // set only for Kind == DependencyFailure
	cause      error
}

func (e *Error) Error() string {
	if e.Dependency != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Dependency)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func new_(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, cause: cause}
}

func NotFoundf(format string, args ...any) *Error {
	return new_(NotFound, fmt.Sprintf(format, args...), nil)
}

func AlreadyExistsf(format string, args ...any) *Error {
	return new_(AlreadyExists, fmt.Sprintf(format, args...), nil)
}

func InvalidArgumentf(format string, args ...any) *Error {
	return new_(InvalidArgument, fmt.Sprintf(format, args...), nil)
}

func Unauthorizedf(format string, args ...any) *Error {
	return new_(Unauthorized, fmt.Sprintf(format, args...), nil)
}

func Forbiddenf(format string, args ...any) *Error {
	return new_(Forbidden, fmt.Sprintf(format, args...), nil)
}

func QuotaExceededf(format string, args ...any) *Error {
	return new_(QuotaExceeded, fmt.Sprintf(format, args...), nil)
}

func Conflictf(format string, args ...any) *Error {
	return new_(Conflict, fmt.Sprintf(format, args...), nil)
}

func Internal(cause error, format string, args ...any) *Error {
	return new_(InternalKind, fmt.Sprintf(format, args...), cause)
}

// DependencyFailuref wraps a failure from object/graph/vector/LLM dependencies.
func DependencyFailuref(dependency string, cause error, format string, args ...any) *Error {
	e := new_(DependencyFailure, fmt.Sprintf(format, args...), cause)
	e.Dependency = dependency
	return e
}

// Of extracts the *Error from err, if any is present in its chain.
func Of(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err, defaulting to InternalKind if err does not
// carry a typed apperr.Error.
func KindOf(err error) Kind {
	if e, ok := Of(err); ok {
		return e.Kind
	}
	if err == nil {
		return ""
	}
	return InternalKind
}
