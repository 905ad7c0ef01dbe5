package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure for API consumers. Every error that crosses the
// orchestrator boundary carries one so the HTTP layer can map it to a status
// code without inspecting messages.
type Kind string

const (
	KindValidation Kind = "ValidationError"
	KindResource   Kind = "ResourceError"
	KindBusy       Kind = "Busy"
	KindInference  Kind = "InferenceError"
	KindEncoding   Kind = "EncodingError"
	KindNotFound   Kind = "NotFound"
	KindInternal   Kind = "InternalError"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrBusy        = errors.New("server busy")
)

// Error is a classified error. Message is safe to return to callers; Err
// holds the underlying cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a classified error from a format string.
func E(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapE classifies an underlying error while keeping it unwrappable.
func WrapE(kind Kind, err error, message string) error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the Kind from err, defaulting to KindInternal.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	switch {
	case errors.Is(err, ErrJobNotFound):
		return KindNotFound
	case errors.Is(err, ErrBusy):
		return KindBusy
	}
	return KindInternal
}

// MessageOf returns the caller-safe message for err.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}

// HTTPStatus maps a Kind to the response status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindResource, KindBusy:
		return http.StatusServiceUnavailable
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
