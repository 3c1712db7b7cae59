package chat

import (
	"context"
	"io"
	"strings"

	"github.com/go-go-golems/chatrelay/pkg/ai/backend"
	"github.com/go-go-golems/chatrelay/pkg/conversation"
	"github.com/go-go-golems/chatrelay/pkg/events"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Relay forwards one backend stream to its sinks and commits the assembled
// completion. Exactly one outcome is decided per stream: persisted after
// done, discarded after error, discarded on abort.
type Relay struct {
	store conversation.Store
}

func NewRelay(store conversation.Store) *Relay {
	return &Relay{store: store}
}

func publish(sinks []events.EventSink, ev events.Event) error {
	for _, s := range sinks {
		if err := s.PublishEvent(ev); err != nil {
			return err
		}
	}
	return nil
}

func publishBlind(sinks []events.EventSink, ev events.Event) {
	for _, s := range sinks {
		if err := s.PublishEvent(ev); err != nil {
			log.Debug().Err(err).Str("event_type", string(ev.Type())).Msg("could not publish event")
		}
	}
}

// Run consumes stream until its terminal event. It returns the persisted text
// on done. The stream is always closed on return.
func (r *Relay) Run(
	ctx context.Context,
	conversationID string,
	metadata events.EventMetadata,
	stream backend.Stream,
	sinks []events.EventSink,
) (string, error) {
	defer func() { _ = stream.Close() }()

	var sb strings.Builder

	abort := func(cause error) (string, error) {
		// stop the producer before telling anyone
		_ = stream.Close()
		publishBlind(sinks, events.NewInterruptEvent(metadata, sb.String()))
		log.Debug().Err(cause).Str("conversation_id", conversationID).Int("discarded", sb.Len()).Msg("stream aborted")
		return "", errors.Wrap(ErrStreamAborted, cause.Error())
	}

	if err := publish(sinks, events.NewStartEvent(metadata)); err != nil {
		return abort(err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return abort(err)
		}

		ev, err := stream.Recv()
		if err == io.EOF {
			// the producer always sends a terminal event, EOF here means it was lost
			be := backend.NewError("", backend.ErrorKindMalformed, nil, "stream ended without a terminal event")
			return r.fail(sinks, metadata, conversationID, be)
		}
		if err != nil {
			return abort(err)
		}

		switch ev.Type {
		case backend.TokenEventContent:
			sb.WriteString(ev.Content)
			if err := publish(sinks, events.NewPartialCompletionEvent(metadata, ev.Content, sb.String())); err != nil {
				return abort(err)
			}

		case backend.TokenEventError:
			if ev.Err != nil && ev.Err.Kind == backend.ErrorKindCanceled && ctx.Err() != nil {
				return abort(ctx.Err())
			}
			be := ev.Err
			if be == nil {
				be = backend.NewError("", backend.ErrorKindProvider, nil, "unknown stream error")
			}
			return r.fail(sinks, metadata, conversationID, be)

		case backend.TokenEventDone:
			text := sb.String()
			// the outcome is decided once done is seen, a late disconnect must not undo it
			if _, err := r.store.AppendMessage(context.WithoutCancel(ctx), conversationID, conversation.RoleAssistant, text); err != nil {
				publishBlind(sinks, events.NewErrorEvent(metadata, err))
				return "", errors.Wrap(err, "could not persist assistant message")
			}
			if err := publish(sinks, events.NewFinalEvent(metadata, text)); err != nil {
				log.Warn().Err(err).Str("conversation_id", conversationID).Msg("completion persisted but final event not delivered")
			}
			return text, nil
		}
	}
}

// fail reports a backend error to the sinks and discards the buffer.
func (r *Relay) fail(sinks []events.EventSink, metadata events.EventMetadata, conversationID string, be *backend.Error) (string, error) {
	ev := events.NewErrorEvent(metadata, be)
	ev.Kind = string(be.Kind)
	ev.Connectivity = be.Kind == backend.ErrorKindTransport
	publishBlind(sinks, ev)
	log.Debug().Str("conversation_id", conversationID).Str("kind", string(be.Kind)).Msg("stream failed")
	return "", wrapBackendError(be.Provider, be, ErrStreamAborted)
}
