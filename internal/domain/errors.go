package domain

import (
	"errors"
	"fmt"
)

// ErrorKind lifecycle failure category; the request layer maps it to a transport code.
type ErrorKind string

const (
	KindNotFound          ErrorKind = "not_found"
	KindForbidden         ErrorKind = "forbidden"
	KindConflict          ErrorKind = "conflict"
	KindInvalidTransition ErrorKind = "invalid_transition"
	KindInvalidState      ErrorKind = "invalid_state"
	KindInvalidArgument   ErrorKind = "invalid_argument"
	KindInvalidSignature  ErrorKind = "invalid_signature"
)

// LifecycleError typed failure returned by every lifecycle operation.
type LifecycleError struct {
	Kind    ErrorKind
	Message string
}

func (e *LifecycleError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

// Is matches on kind, so errors.Is(err, ErrConflict) holds for any conflict.
func (e *LifecycleError) Is(target error) bool {
	t, ok := target.(*LifecycleError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrNotFound          = &LifecycleError{Kind: KindNotFound}
	ErrForbidden         = &LifecycleError{Kind: KindForbidden}
	ErrConflict          = &LifecycleError{Kind: KindConflict}
	ErrInvalidTransition = &LifecycleError{Kind: KindInvalidTransition}
	ErrInvalidState      = &LifecycleError{Kind: KindInvalidState}
	ErrInvalidArgument   = &LifecycleError{Kind: KindInvalidArgument}
	ErrInvalidSignature  = &LifecycleError{Kind: KindInvalidSignature}
)

func newError(kind ErrorKind, format string, args ...any) *LifecycleError {
	return &LifecycleError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *LifecycleError {
	return newError(KindNotFound, format, args...)
}

func Forbidden(format string, args ...any) *LifecycleError {
	return newError(KindForbidden, format, args...)
}

func Conflict(format string, args ...any) *LifecycleError {
	return newError(KindConflict, format, args...)
}

func InvalidTransition(format string, args ...any) *LifecycleError {
	return newError(KindInvalidTransition, format, args...)
}

func InvalidState(format string, args ...any) *LifecycleError {
	return newError(KindInvalidState, format, args...)
}

func InvalidArgument(format string, args ...any) *LifecycleError {
	return newError(KindInvalidArgument, format, args...)
}

func InvalidSignature(format string, args ...any) *LifecycleError {
	return newError(KindInvalidSignature, format, args...)
}

// KindOf returns the lifecycle kind carried by err, or "" for infrastructure errors.
func KindOf(err error) ErrorKind {
	var le *LifecycleError
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}
