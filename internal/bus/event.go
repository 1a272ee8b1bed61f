package bus

import "time"

// Event is a domain event published on the bus. Kind is a dotted name
// whose leading segment acts as the subscription namespace, e.g.
// "conn.status_changed", "push.message", "sync.updated", "send.failed".
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
