package events

import (
	"fmt"
	"io"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
)

// PrinterFunc returns a watermill handler that writes a streamed completion
// to w as it arrives. name, when set, is printed once before the first fragment.
func PrinterFunc(name string, w io.Writer) func(msg *message.Message) error {
	isFirst := true
	lastText := ""

	return func(msg *message.Message) error {
		defer msg.Ack()

		e, err := NewEventFromJson(msg.Payload)
		if err != nil {
			return err
		}

		switch p_ := e.(type) {
		case *EventPartialCompletionStart:
			isFirst = true
			lastText = ""

		case *EventPartialCompletion:
			if isFirst && name != "" {
				isFirst = false
				if _, err := fmt.Fprintf(w, "%s: ", name); err != nil {
					return err
				}
			}
			lastText = p_.Completion
			if _, err := fmt.Fprintf(w, "%s", p_.Delta); err != nil {
				return err
			}

		case *EventFinal:
			if !strings.HasSuffix(p_.Text, "\n") {
				if _, err := fmt.Fprintf(w, "\n"); err != nil {
					return err
				}
			}

		case *EventError:
			prefix := ""
			if lastText != "" && !strings.HasSuffix(lastText, "\n") {
				prefix = "\n"
			}
			if _, err := fmt.Fprintf(w, "%sError: %s\n", prefix, p_.ErrorString); err != nil {
				return err
			}

		case *EventInterrupt:
			if _, err := fmt.Fprintf(w, "\n[interrupted]\n"); err != nil {
				return err
			}
		}

		return nil
	}
}
