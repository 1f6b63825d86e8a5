package shared

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind categorizes failures that cross component boundaries.
type Kind string

const (
	KindValidation            Kind = "validation_error"
	KindAuth                  Kind = "auth_error"
	KindModelConfig           Kind = "model_config_error"
	KindModelSafety           Kind = "model_safety_block"
	KindCapabilityUnavailable Kind = "capability_unavailable"
	KindNetwork               Kind = "network_error"
	KindRateLimited           Kind = "rate_limited"
	KindInternal              Kind = "internal_error"
)

// Error is a classified failure. Err is the underlying cause, if any.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind, so errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// NewError builds a classified error.
func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// Validation returns a validation error with the given message.
func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// Unauthenticated returns an auth error.
func Unauthenticated() *Error {
	return &Error{Kind: KindAuth, Message: "authentication required"}
}

// CapabilityUnavailable reports a missing device capability.
func CapabilityUnavailable(message string) *Error {
	return &Error{Kind: KindCapabilityUnavailable, Message: message}
}

// KindOf returns the classification of err, or KindInternal when err is not
// a classified error.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the user-facing message of a classified error.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal server error"
}

// HTTPStatus maps a kind onto the status the chat API responds with.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindModelSafety:
		return http.StatusUnprocessableEntity
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindNetwork:
		return http.StatusBadGateway
	case KindCapabilityUnavailable:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// KindFromStatus is the inverse of HTTPStatus, used by API clients.
func KindFromStatus(status int) Kind {
	switch status {
	case http.StatusBadRequest:
		return KindValidation
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuth
	case http.StatusUnprocessableEntity:
		return KindModelSafety
	case http.StatusTooManyRequests:
		return KindRateLimited
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return KindNetwork
	case http.StatusNotImplemented:
		return KindCapabilityUnavailable
	case http.StatusInternalServerError:
		return KindModelConfig
	default:
		return KindInternal
	}
}
