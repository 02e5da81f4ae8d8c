// ABOUTME: Domain error taxonomy shared by the friendship, chat, and realtime layers
// ABOUTME: Classifies store failures into not_found/conflict/forbidden/validation kinds

package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kvchvn/chitchat-backend/internal/store"
)

// Kind names a failure class. The string values are part of the wire protocol.
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindForbidden    Kind = "forbidden"
	KindValidation   Kind = "validation"
	KindUnauthorized Kind = "unauthorized"
	KindUnavailable  Kind = "unavailable"
	KindStore        Kind = "store"
)

// Error is a classified domain error. Issues is only populated for
// KindValidation and lists field-level problems.
type Error struct {
	Kind    Kind
	Message string
	Issues  []string
	Cause   error
}

func (e *Error) Error() string {
	msg := string(e.Kind) + ": " + e.Message
	if len(e.Issues) > 0 {
		msg += " (" + strings.Join(e.Issues, "; ") + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func NotFound(format string, args ...any) *Error  { return New(KindNotFound, format, args...) }
func Conflict(format string, args ...any) *Error  { return New(KindConflict, format, args...) }
func Forbidden(format string, args ...any) *Error { return New(KindForbidden, format, args...) }

func Unauthorized(format string, args ...any) *Error {
	return New(KindUnauthorized, format, args...)
}

func Unavailable(format string, args ...any) *Error {
	return New(KindUnavailable, format, args...)
}

// Validation builds a validation error carrying field-level issues.
func Validation(issues ...string) *Error {
	return &Error{Kind: KindValidation, Message: "validation failed", Issues: issues}
}

// KindOf classifies err. Store sentinels are mapped to their domain kinds;
// anything unrecognised is a store failure.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return KindNotFound
	case errors.Is(err, store.ErrConflict):
		return KindConflict
	}
	return KindStore
}

// Is reports whether err classifies as kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// FromStore re-classifies a store error into an *Error. Already classified
// errors are returned unchanged.
func FromStore(err error, op string) error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return err
	}
	kind := KindOf(err)
	switch kind {
	case KindNotFound:
		return Wrap(kind, err, "%s: resource not found", op)
	case KindConflict:
		return Wrap(kind, err, "%s: conflicting concurrent update", op)
	}
	return Wrap(KindStore, err, "%s failed", op)
}

// Public returns the message and issues safe to show to a client. Store
// failures are not described beyond their kind.
func Public(err error) (Kind, string, []string) {
	kind := KindOf(err)
	var appErr *Error
	if !errors.As(err, &appErr) {
		if kind == KindStore {
			return kind, "internal store error", nil
		}
		return kind, err.Error(), nil
	}
	if kind == KindStore {
		return kind, "internal store error", nil
	}
	return kind, appErr.Message, appErr.Issues
}

// HTTPStatus maps a kind to the status code used by the HTTP API.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindForbidden:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
