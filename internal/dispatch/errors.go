package dispatch

import (
	"errors"
	"fmt"
	"net/http"

	"aigateway/internal/billing"
	"aigateway/internal/registry"
)

// StatusClientClosedRequest is used when the caller went away before an answer.
const StatusClientClosedRequest = 499

// Error is a dispatch failure with the HTTP status it maps to.
type Error struct {
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func validationError(format string, args ...any) *Error {
	return &Error{Status: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

// StatusOf returns the HTTP status an error maps to. Unknown errors are internal.
func StatusOf(err error) int {
	var de *Error
	if errors.As(err, &de) {
		return de.Status
	}
	switch {
	case errors.Is(err, billing.ErrInsufficientCredit):
		return http.StatusPaymentRequired
	case errors.Is(err, registry.ErrMissingModel):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrUnsupportedModel):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// MessageOf returns the client facing message of err. Internal errors never
// leak their details.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	if StatusOf(err) == http.StatusInternalServerError {
		return "internal error"
	}
	return err.Error()
}

// classify turns a registry or gate failure into an *Error.
func classify(err error) *Error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	status := StatusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	return &Error{Status: status, Message: msg, Err: err}
}
