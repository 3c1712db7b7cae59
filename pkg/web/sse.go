package web

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-go-golems/chatrelay/pkg/events"
	"github.com/pkg/errors"
)

type contentFrame struct {
	Content string `json:"content"`
}

type doneFrame struct {
	Done bool `json:"done"`
}

// sseSink writes relay events as "data: <json>\n\n" frames. Headers are
// committed on the start event, so failures before the stream begins can
// still be answered with a plain JSON error.
type sseSink struct {
	w        http.ResponseWriter
	rc       *http.ResponseController
	started  bool
	terminal bool
}

func newSSESink(w http.ResponseWriter) *sseSink {
	return &sseSink{w: w, rc: http.NewResponseController(w)}
}

func (s *sseSink) begin() {
	if s.started {
		return
	}
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.started = true
}

func (s *sseSink) frame(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", b); err != nil {
		return errors.Wrap(err, "client write failed")
	}
	if err := s.rc.Flush(); err != nil {
		return errors.Wrap(err, "client flush failed")
	}
	return nil
}

func (s *sseSink) PublishEvent(ev events.Event) error {
	switch e := ev.(type) {
	case *events.EventPartialCompletionStart:
		s.begin()
		return s.rc.Flush()
	case *events.EventPartialCompletion:
		s.begin()
		return s.frame(contentFrame{Content: e.Delta})
	case *events.EventFinal:
		s.begin()
		s.terminal = true
		return s.frame(doneFrame{Done: true})
	case *events.EventError:
		s.begin()
		s.terminal = true
		return s.frame(errorResponse{Error: e.ErrorString, Connectivity: e.Connectivity})
	}
	// interrupts are not forwarded, the client is usually gone
	return nil
}

// fail ends a begun stream with an error frame if no terminal frame was sent.
func (s *sseSink) fail(err error) {
	if !s.started || s.terminal {
		return
	}
	s.terminal = true
	_ = s.frame(errorResponse{Error: err.Error()})
}

var _ events.EventSink = (*sseSink)(nil)
