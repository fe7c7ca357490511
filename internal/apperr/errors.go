package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies failures coming back from GitHub, Trello or the store.
type Kind string

const (
	KindUnauthorized      Kind = "unauthorized"
	KindResourceMissing   Kind = "resource_missing"
	KindHookAlreadyExists Kind = "hook_already_exists"
	KindInvalidRequest    Kind = "invalid_request"
	KindConflict          Kind = "conflict"
)

const (
	ServiceGithub = "github"
	ServiceTrello = "trello"
)

type Error struct {
	Kind       Kind
	Service    string
	Message    string
	StatusCode int
	Cause      error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Service != "" {
		msg = fmt.Sprintf("%s: %s", e.Service, msg)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

func NewUnauthorized(service, message string) *Error {
	return &Error{Kind: KindUnauthorized, Service: service, Message: message, StatusCode: http.StatusUnauthorized}
}

func NewResourceMissing(service, message string) *Error {
	return &Error{Kind: KindResourceMissing, Service: service, Message: message, StatusCode: http.StatusNotFound}
}

func NewHookAlreadyExists(service, message string) *Error {
	return &Error{Kind: KindHookAlreadyExists, Service: service, Message: message, StatusCode: http.StatusBadRequest}
}

func NewInvalidRequest(service string, statusCode int, message string) *Error {
	return &Error{Kind: KindInvalidRequest, Service: service, Message: message, StatusCode: statusCode}
}

func NewConflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message, StatusCode: http.StatusConflict}
}

// FromStatus maps an HTTP response status onto the taxonomy. It returns nil
// for 2xx/3xx codes.
func FromStatus(service string, statusCode int, body string) *Error {
	switch {
	case statusCode < 400:
		return nil
	case statusCode == http.StatusUnauthorized:
		return NewUnauthorized(service, body)
	case statusCode == http.StatusNotFound:
		return NewResourceMissing(service, body)
	default:
		return NewInvalidRequest(service, statusCode, fmt.Sprintf("HTTP %d: %s", statusCode, body))
	}
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func hasKind(err error, kind Kind) bool {
	appErr, ok := As(err)
	return ok && appErr.Kind == kind
}

func IsUnauthorized(err error) bool {
	return hasKind(err, KindUnauthorized)
}

func IsResourceMissing(err error) bool {
	return hasKind(err, KindResourceMissing)
}

func IsHookAlreadyExists(err error) bool {
	return hasKind(err, KindHookAlreadyExists)
}

func IsInvalidRequest(err error) bool {
	return hasKind(err, KindInvalidRequest)
}

func IsConflict(err error) bool {
	return hasKind(err, KindConflict)
}

// ServiceOf reports which provider produced err, or "" if unknown.
func ServiceOf(err error) string {
	if appErr, ok := As(err); ok {
		return appErr.Service
	}
	return ""
}
