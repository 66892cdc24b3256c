package sandbox

import (
	"encoding/json"
	"fmt"

	"github.com/yousuf/failfast/internal/events"
)

// Event types
const (
	EventError     = "error"
	EventRejection = "rejection"
)

// GuestEvent is an error or rejection captured outside the host, in the
// shape a page's error and unhandledrejection handlers see it.
// Exactly one of Error or Value describes what was thrown.
type GuestEvent struct {
	Type    string          `json:"type"`
	Message string          `json:"message,omitempty"`
	Source  string          `json:"source,omitempty"`
	Line    int             `json:"lineno,omitempty"`
	Column  int             `json:"colno,omitempty"`
	Error   *GuestError     `json:"error,omitempty"`
	Value   json.RawMessage `json:"value,omitempty"`
}

// thrown returns the value that was thrown or rejected with, decoded into the
// shapes the event bindings understand.
func (e GuestEvent) thrown() any {
	if e.Error != nil {
		return e.Error.toError()
	}
	if len(e.Value) == 0 {
		return nil
	}

	var v any
	if err := json.Unmarshal(e.Value, &v); err != nil {
		return string(e.Value)
	}
	return v
}

// DispatchGuestEvent delivers a decoded guest event to d
func DispatchGuestEvent(d Dispatcher, ev GuestEvent) error {
	switch ev.Type {
	case EventError:
		d.DispatchError(events.ErrorEvent{
			Message: ev.Message,
			Source:  ev.Source,
			Line:    ev.Line,
			Column:  ev.Column,
			Error:   ev.thrown(),
		})
	case EventRejection:
		reason := ev.thrown()
		if reason == nil {
			d.DispatchRejection(nil)
			return nil
		}
		d.DispatchRejection(&events.RejectionEvent{Reason: reason})
	default:
		return fmt.Errorf("unknown guest event type %q", ev.Type)
	}
	return nil
}
