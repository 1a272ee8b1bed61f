package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/chatty/internal/bus"
)

// State is the realtime channel connection state as seen by the client.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Online       State = "ONLINE"
	Errored      State = "ERRORED"
)

// validTransitions defines the allowed connection lifecycle. The
// machine never retries by itself: Errored only leaves on a
// client-driven Connecting attempt.
var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Online, Errored, Disconnected},
	Online:       {Disconnected},
	Errored:      {Connecting},
}

// Machine tracks and enforces connection state transitions, publishing
// every change on the bus.
type Machine struct {
	mu      sync.RWMutex
	current State
	reason  string
	bus     *bus.Bus
}

// NewMachine creates a machine starting in Disconnected.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Disconnected, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Reason returns the failure reason recorded by the last Fail call.
// Empty unless the machine is in Errored.
func (m *Machine) Reason() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reason
}

// Transition attempts to move to a new state. Returns an error if the
// transition is not allowed.
func (m *Machine) Transition(to State) error {
	return m.transition(to, "")
}

// Fail moves the machine to Errored recording the reason, e.g. an
// authorization rejection during the handshake.
func (m *Machine) Fail(reason string) error {
	return m.transition(Errored, reason)
}

func (m *Machine) transition(to State, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if to == Errored {
		m.reason = reason
	} else {
		m.reason = ""
	}
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      "conn.status_changed",
			Timestamp: time.Now(),
			Payload: StatusChange{
				From:   from,
				To:     to,
				Reason: reason,
			},
		})
	}
	return nil
}

// StatusChange is the payload for connection status change events.
type StatusChange struct {
	From   State
	To     State
	Reason string
}
