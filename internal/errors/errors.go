package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind categorizes errors raised along the detection path
type Kind string

const (
	KindInput              Kind = "input"
	KindBackendUnavailable Kind = "backend_unavailable"
	KindTransport          Kind = "transport"
	KindParse              Kind = "parse"
	KindConfig             Kind = "config"
	KindCodec              Kind = "codec"
	KindUnknown            Kind = "unknown"
)

// Error is a kind-tagged error carrying the failing operation
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Wrap tags err with a kind. Already-typed errors are returned unchanged.
func Wrap(kind Kind, op, message string, err error) *Error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}

	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
		Cause:   err,
	}
}

func New(kind Kind, op, message string) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
	}
}

// IsKind checks whether the first typed error in the chain matches the provided kind.
func IsKind(err error, kind Kind) bool {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind == kind
	}
	return false
}

// KindOf returns the kind of the first typed error in the chain
func KindOf(err error) Kind {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind
	}
	return KindUnknown
}

// HTTPStatus maps an error to the status code the HTTP layer responds with
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInput:
		return http.StatusBadRequest
	case KindParse, KindCodec:
		return http.StatusUnprocessableEntity
	case KindBackendUnavailable:
		return http.StatusServiceUnavailable
	case KindTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
