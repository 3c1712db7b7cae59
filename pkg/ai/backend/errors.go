package backend

import (
	"context"
	"fmt"
	"net"
	"net/url"

	"github.com/pkg/errors"
)

type ErrorKind string

const (
	// ErrorKindTransport means no response was received at all.
	ErrorKindTransport   ErrorKind = "transport"
	ErrorKindUnavailable ErrorKind = "unavailable"
	ErrorKindMalformed   ErrorKind = "malformed"
	ErrorKindProvider    ErrorKind = "provider"
	ErrorKindCanceled    ErrorKind = "canceled"
)

// Error is the only error shape that leaves an adapter.
type Error struct {
	Kind     ErrorKind
	Provider string
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s %s error: %s", e.Provider, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func NewError(provider string, kind ErrorKind, cause error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:     kind,
		Provider: provider,
		Message:  fmt.Sprintf(format, args...),
		Cause:    cause,
	}
}

// Normalize converts err into an *Error. Errors that already are one are
// returned as is, with the provider filled in when missing.
func Normalize(provider string, err error) *Error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		if be.Provider == "" {
			cp := *be
			cp.Provider = provider
			return &cp
		}
		return be
	}
	if errors.Is(err, context.Canceled) {
		return NewError(provider, ErrorKindCanceled, err, "request canceled")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(provider, ErrorKindTransport, err, "request timed out")
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return NewError(provider, ErrorKindTransport, err, "could not reach %s", urlErr.URL)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return NewError(provider, ErrorKindTransport, err, "%s", netErr.Error())
	}
	return NewError(provider, ErrorKindProvider, err, "%s", err.Error())
}

func KindOf(err error) (ErrorKind, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind, true
	}
	return "", false
}

// KindForStatus maps an HTTP status reported by a provider.
func KindForStatus(status int) ErrorKind {
	switch {
	case status == 404:
		return ErrorKindUnavailable
	case status == 502 || status == 503 || status == 504:
		return ErrorKindUnavailable
	default:
		return ErrorKindProvider
	}
}
