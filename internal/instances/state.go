package instances

import (
	"errors"
	"fmt"
)

// Instance statuses.
const (
	StatusDisconnected = "disconnected"
	StatusConnecting   = "connecting"
	StatusQRReady      = "qr_ready"
	StatusConnected    = "connected"
)

// Event drives the instance state machine.
type Event string

const (
	EventConnect Event = "connect"
	EventQR      Event = "qr"
	EventOpen    Event = "open"
	EventLogout  Event = "logout"
	EventFail    Event = "fail"
)

// ErrInvalidTransition is returned for events that do not apply to the
// current status.
var ErrInvalidTransition = errors.New("invalid instance state transition")

var transitions = map[Event]map[string]string{
	EventConnect: {
		StatusDisconnected: StatusConnecting,
	},
	EventQR: {
		StatusConnecting: StatusQRReady,
		StatusQRReady:    StatusQRReady,
	},
	EventOpen: {
		StatusConnecting: StatusConnected,
		StatusQRReady:    StatusConnected,
	},
	EventLogout: {
		StatusConnected:  StatusDisconnected,
		StatusQRReady:    StatusDisconnected,
		StatusConnecting: StatusDisconnected,
	},
}

// Transition returns the status reached from 'from' on event. A failure
// leads to disconnected from anywhere.
func Transition(from string, event Event) (string, error) {
	if event == EventFail {
		return StatusDisconnected, nil
	}
	if to, ok := transitions[event][from]; ok {
		return to, nil
	}
	return from, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, event, from)
}
