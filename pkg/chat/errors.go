package chat

import (
	"github.com/go-go-golems/chatrelay/pkg/ai/backend"
	"github.com/go-go-golems/chatrelay/pkg/ai/settings"
	"github.com/go-go-golems/chatrelay/pkg/conversation"
	"github.com/pkg/errors"
)

var (
	ErrConversationNotFound = conversation.ErrConversationNotFound
	ErrInvalidParams        = backend.ErrInvalidParams
	ErrUnknownModel         = settings.ErrUnknownModel

	ErrNoModelSelected    = errors.New("no model selected")
	ErrEmptyMessage       = errors.New("message is empty")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrBackendError       = errors.New("backend error")
	ErrStreamAborted      = errors.New("stream aborted")
	ErrRequestCanceled    = errors.New("request canceled")
)

// turnError ties a normalized backend failure to one of the sentinels above,
// so callers can use errors.Is for the category and errors.As for the detail.
type turnError struct {
	sentinel error
	cause    *backend.Error
}

func (e *turnError) Error() string {
	return e.sentinel.Error() + ": " + e.cause.Error()
}

func (e *turnError) Is(target error) bool {
	return target == e.sentinel
}

func (e *turnError) Unwrap() error {
	return e.cause
}

// wrapBackendError classifies err, which came out of a backend call.
// Cancellation is reported as canceled, ErrStreamAborted for streaming turns
// and ErrRequestCanceled otherwise.
func wrapBackendError(provider string, err error, canceled error) error {
	if err == nil {
		return nil
	}
	be := backend.Normalize(provider, err)
	switch be.Kind {
	case backend.ErrorKindUnavailable:
		return &turnError{sentinel: ErrBackendUnavailable, cause: be}
	case backend.ErrorKindCanceled:
		return &turnError{sentinel: canceled, cause: be}
	default:
		return &turnError{sentinel: ErrBackendError, cause: be}
	}
}

// IsConnectivity reports whether err is a backend failure where no response
// was received at all.
func IsConnectivity(err error) bool {
	var be *backend.Error
	if errors.As(err, &be) {
		return be.Kind == backend.ErrorKindTransport
	}
	return false
}
