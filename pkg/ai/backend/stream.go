package backend

import (
	"context"
	"io"
	"strings"

	"github.com/rs/zerolog"
)

type TokenEventType string

const (
	TokenEventContent TokenEventType = "content"
	TokenEventDone    TokenEventType = "done"
	TokenEventError   TokenEventType = "error"
)

// TokenEvent is one element of a generation stream. Done and Error are
// terminal.
type TokenEvent struct {
	Type    TokenEventType
	Content string
	Err     *Error
}

func (e TokenEvent) IsTerminal() bool {
	return e.Type == TokenEventDone || e.Type == TokenEventError
}

func (e TokenEvent) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type))
	if e.Content != "" {
		ev.Int("content_len", len(e.Content))
	}
	if e.Err != nil {
		ev.Str("error_kind", string(e.Err.Kind)).Str("error", e.Err.Message)
	}
}

func ContentEvent(s string) TokenEvent { return TokenEvent{Type: TokenEventContent, Content: s} }
func DoneEvent() TokenEvent            { return TokenEvent{Type: TokenEventDone} }
func ErrorEvent(err *Error) TokenEvent { return TokenEvent{Type: TokenEventError, Err: err} }

// Stream is a lazy, finite, non restartable sequence of TokenEvents. Recv
// returns io.EOF once the terminal event has been delivered. Close cancels
// the producer and may be called at any time.
type Stream interface {
	Recv() (TokenEvent, error)
	Close() error
}

type channelStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	events <-chan TokenEvent
}

// NewEventStream runs run in its own goroutine and exposes what it sends as
// a Stream. A nil return from run ends the stream with a done event, an
// error ends it with a normalized error event. The channel is bounded so a
// slow consumer stalls the producer instead of growing a buffer.
func NewEventStream(ctx context.Context, provider string, run func(context.Context, chan<- TokenEvent) error) Stream {
	streamCtx, cancel := context.WithCancel(ctx)
	ch := make(chan TokenEvent, 16)
	go func() {
		defer close(ch)
		terminal := DoneEvent()
		if err := run(streamCtx, ch); err != nil {
			terminal = ErrorEvent(Normalize(provider, err))
		}
		select {
		case ch <- terminal:
		case <-streamCtx.Done():
		}
	}()
	return &channelStream{ctx: streamCtx, cancel: cancel, events: ch}
}

func (s *channelStream) Recv() (TokenEvent, error) {
	// drain buffered events before looking at ctx so a done is not lost
	select {
	case event, ok := <-s.events:
		if !ok {
			return TokenEvent{}, io.EOF
		}
		return event, nil
	default:
	}

	select {
	case <-s.ctx.Done():
		return TokenEvent{}, s.ctx.Err()
	case event, ok := <-s.events:
		if !ok {
			return TokenEvent{}, io.EOF
		}
		return event, nil
	}
}

func (s *channelStream) Close() error {
	s.cancel()
	return nil
}

// Send delivers ev unless ctx is done first.
func Send(ctx context.Context, ch chan<- TokenEvent, ev TokenEvent) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case ch <- ev:
		return nil
	}
}

// Collect drains s and returns the assembled text. It stops at the first
// terminal event.
func Collect(s Stream) (string, error) {
	defer func() { _ = s.Close() }()
	var sb strings.Builder
	for {
		ev, err := s.Recv()
		if err == io.EOF {
			return sb.String(), nil
		}
		if err != nil {
			return "", err
		}
		switch ev.Type {
		case TokenEventContent:
			sb.WriteString(ev.Content)
		case TokenEventError:
			return "", ev.Err
		case TokenEventDone:
			return sb.String(), nil
		}
	}
}
