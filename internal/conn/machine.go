package conn

import (
	"fmt"

	"gateway-console/internal/gateway"
)

// machine is the per-instance connection state machine. It performs no I/O;
// side effects are confined to the loops the manager starts and stops around
// it. Access is guarded by the owning session's mutex.
type machine struct {
	state gateway.Status
}

// errInvalidTransition is returned when a requested transition is not in the
// table. Stable states (connected, error, disconnected) never self-transition;
// they only leave via a new user action or a poll observation.
type errInvalidTransition struct {
	from, to gateway.Status
}

func (e *errInvalidTransition) Error() string {
	return fmt.Sprintf("invalid connection state transition %s -> %s", e.from, e.to)
}

func newMachine() *machine {
	return &machine{state: gateway.StatusDisconnected}
}

// transition moves the machine to a non-connected state. Entering connected is
// reserved for observeConnected so only the status poll loop can declare
// success.
func (m *machine) transition(to gateway.Status) error {
	if to == gateway.StatusConnected {
		return &errInvalidTransition{from: m.state, to: to}
	}
	if !allowed(m.state, to) {
		return &errInvalidTransition{from: m.state, to: to}
	}
	m.state = to
	return nil
}

// observeConnected applies a poll-detected success. Valid only while a
// connection flow is active.
func (m *machine) observeConnected() error {
	switch m.state {
	case gateway.StatusConnecting, gateway.StatusQRCode:
		m.state = gateway.StatusConnected
		return nil
	default:
		return &errInvalidTransition{from: m.state, to: gateway.StatusConnected}
	}
}

func allowed(from, to gateway.Status) bool {
	if from == to {
		return false
	}
	if to == gateway.StatusError {
		return true
	}
	switch to {
	case gateway.StatusConnecting:
		// User-initiated connect from any resting state.
		return from == gateway.StatusDisconnected || from == gateway.StatusConnected || from == gateway.StatusError
	case gateway.StatusQRCode:
		// First successful pairing-code fetch.
		return from == gateway.StatusConnecting
	case gateway.StatusDisconnected:
		// Cancellation or logout of an active flow.
		return from == gateway.StatusConnecting || from == gateway.StatusQRCode ||
			from == gateway.StatusConnected || from == gateway.StatusError
	default:
		return false
	}
}
