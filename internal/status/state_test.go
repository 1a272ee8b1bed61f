package status

import (
	"testing"

	"github.com/matheus3301/chatty/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Disconnected {
		t.Errorf("initial state = %s, want DISCONNECTED", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Disconnected, Connecting},
		{Connecting, Online},
		{Connecting, Errored},
		{Connecting, Disconnected},
		{Online, Disconnected},
		{Errored, Connecting},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Online); err == nil {
		t.Error("Transition(DISCONNECTED -> ONLINE) should fail; must go through CONNECTING")
	}
	if m.Current() != Disconnected {
		t.Errorf("state = %s, want DISCONNECTED (should not have changed)", m.Current())
	}
}

// TestNoAutoRetryFromErrored verifies that Errored is a terminal state
// for the machine itself: only an explicit client-driven Connecting
// attempt leaves it, never a direct jump back to Online.
func TestNoAutoRetryFromErrored(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Connecting)
	if err := m.Fail("authorization error"); err != nil {
		t.Fatal(err)
	}
	if m.Reason() != "authorization error" {
		t.Errorf("reason = %q, want authorization error", m.Reason())
	}

	if err := m.Transition(Online); err == nil {
		t.Fatal("Transition(ERRORED -> ONLINE) should fail")
	}

	if err := m.Transition(Connecting); err != nil {
		t.Fatalf("ERRORED -> CONNECTING: %v", err)
	}
	if m.Reason() != "" {
		t.Errorf("reason = %q, want cleared after leaving ERRORED", m.Reason())
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe(10, "conn.")
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != "conn.status_changed" {
		t.Errorf("event kind = %q, want conn.status_changed", evt.Kind)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Disconnected || change.To != Connecting {
		t.Errorf("change = %v -> %v, want DISCONNECTED -> CONNECTING", change.From, change.To)
	}
}

// TestReconnectCycle simulates the full reconnect loop:
// DISCONNECTED → CONNECTING → ONLINE → DISCONNECTED → CONNECTING → ONLINE
func TestReconnectCycle(t *testing.T) {
	m := NewMachine(nil)

	steps := []State{Connecting, Online, Disconnected, Connecting, Online}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if m.Current() != Online {
		t.Errorf("final state = %s, want ONLINE", m.Current())
	}
}

// TestHandshakeRejectedCycle simulates an authorization failure followed
// by a retry with a refreshed credential.
func TestHandshakeRejectedCycle(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Connecting)

	if err := m.Fail("bad credential"); err != nil {
		t.Fatal(err)
	}
	steps := []State{Connecting, Online}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Disconnected: {},
		Connecting:   {Connecting},
		Online:       {Connecting, Online},
		Errored:      {Connecting, Errored},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
