package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"aigateway/internal/registry"
)

// ErrorKind classifies a vendor failure.
type ErrorKind string

const (
	KindAuth        ErrorKind = "auth"
	KindQuota       ErrorKind = "quota"
	KindRateLimit   ErrorKind = "rate_limit"
	KindServer      ErrorKind = "server"
	KindTimeout     ErrorKind = "timeout"
	KindBadRequest  ErrorKind = "bad_request"
	KindUnsupported ErrorKind = "unsupported"
	KindNetwork     ErrorKind = "network"
)

// VendorError is a failed vendor call.
type VendorError struct {
	Vendor  registry.Vendor
	Status  int
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *VendorError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Vendor, e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Vendor, e.Kind, msg)
}

func (e *VendorError) Unwrap() error {
	return e.Err
}

// Retryable reports whether another provider may succeed where this one failed.
func (e *VendorError) Retryable() bool {
	switch e.Kind {
	case KindBadRequest:
		return false
	}
	return true
}

// DisablesCredential reports whether the credential used must be taken out of rotation.
func (e *VendorError) DisablesCredential() bool {
	return e.Kind == KindAuth || e.Kind == KindQuota
}

// AsVendorError unwraps err into a VendorError.
func AsVendorError(err error) (*VendorError, bool) {
	var ve *VendorError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// Unsupported is returned by adapters for operations the vendor lacks.
func Unsupported(vendor registry.Vendor, op string) error {
	return &VendorError{Vendor: vendor, Kind: KindUnsupported, Message: op + " is not supported"}
}

// statusError classifies a non-2xx vendor answer.
func statusError(vendor registry.Vendor, status int, body string) *VendorError {
	e := &VendorError{Vendor: vendor, Status: status, Message: strings.TrimSpace(body)}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Kind = KindAuth
	case status == http.StatusPaymentRequired:
		e.Kind = KindQuota
	case status == http.StatusTooManyRequests:
		e.Kind = KindRateLimit
		if isQuotaMessage(body) {
			e.Kind = KindQuota
		}
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		e.Kind = KindTimeout
	case status >= 500:
		e.Kind = KindServer
	case status == http.StatusBadRequest || status == http.StatusNotFound || status == http.StatusUnprocessableEntity:
		e.Kind = KindBadRequest
	default:
		e.Kind = KindServer
	}
	return e
}

func isQuotaMessage(body string) bool {
	b := strings.ToLower(body)
	return strings.Contains(b, "insufficient_quota") ||
		strings.Contains(b, "quota exceeded") ||
		strings.Contains(b, "exceeded your current quota") ||
		strings.Contains(b, "credit balance")
}

// transportError classifies a failure to get any answer.
func transportError(ctx context.Context, vendor registry.Vendor, err error) *VendorError {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &ne) && ne.Timeout()) {
		return &VendorError{Vendor: vendor, Kind: KindTimeout, Err: err}
	}
	return &VendorError{Vendor: vendor, Kind: KindNetwork, Err: err}
}
