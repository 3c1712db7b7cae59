package web

import (
	"encoding/json"
	"net/http"

	"github.com/go-go-golems/chatrelay/pkg/chat"
	"github.com/go-go-golems/chatrelay/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var errBadRequest = errors.New("invalid request body")

// statusClientClosedRequest is the nginx status for a request the client gave
// up on before a response was written.
const statusClientClosedRequest = 499

type errorResponse struct {
	Success      bool   `json:"success"`
	Error        string `json:"error"`
	Connectivity bool   `json:"connectivity,omitempty"`
}

// statusFor maps an orchestrator error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, chat.ErrInvalidParams),
		errors.Is(err, chat.ErrUnknownModel),
		errors.Is(err, conversation.ErrUnsupportedFormat),
		errors.Is(err, conversation.ErrInvalidConversation):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrConversationNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrNoModelSelected):
		return http.StatusConflict
	case errors.Is(err, chat.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, chat.ErrBackendError):
		return http.StatusBadGateway
	case errors.Is(err, chat.ErrRequestCanceled),
		errors.Is(err, chat.ErrStreamAborted):
		return statusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("could not write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, errorResponse{
		Error:        err.Error(),
		Connectivity: chat.IsConnectivity(err),
	})
}
