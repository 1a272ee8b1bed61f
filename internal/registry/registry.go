package registry

import (
	"sync"

	"github.com/matheus3301/chatty/internal/model"
	"go.uber.org/zap"
)

// Handle is one live connection's outbound queue. Enqueue must not
// block; it reports false when the envelope was dropped (slow or dead
// connection). Durability is the message store's job, not the
// channel's, so a drop here is not an error.
type Handle interface {
	Enqueue(env model.Envelope) bool
}

// Registry tracks every user's open connections and fans envelopes out
// to all of them. Delivery to a given target is serialized so that
// envelopes reach that target's connections in the order Deliver was
// invoked.
type Registry struct {
	mu     sync.RWMutex
	users  map[string]*userEntry
	logger *zap.Logger
}

type userEntry struct {
	mu      sync.Mutex
	handles map[Handle]struct{}
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		users:  make(map[string]*userEntry),
		logger: logger,
	}
}

// Register binds a connection to the user's private channel. A user
// may hold any number of concurrent connections (tabs, devices).
// The handle is inserted while still holding the registry lock:
// releasing it first would let a concurrent Unregister of the user's
// last other connection delete the entry and orphan this handle.
func (r *Registry) Register(userID string, h Handle) {
	r.mu.Lock()
	entry, ok := r.users[userID]
	if !ok {
		entry = &userEntry{handles: make(map[Handle]struct{})}
		r.users[userID] = entry
	}
	entry.mu.Lock()
	entry.handles[h] = struct{}{}
	entry.mu.Unlock()
	r.mu.Unlock()

	r.logger.Debug("connection registered", zap.String("user_id", userID))
}

// Unregister removes a connection. The last connection removes the
// user's entry entirely.
func (r *Registry) Unregister(userID string, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.users[userID]
	if !ok {
		return
	}
	entry.mu.Lock()
	delete(entry.handles, h)
	empty := len(entry.handles) == 0
	entry.mu.Unlock()

	if empty {
		delete(r.users, userID)
	}
	r.logger.Debug("connection unregistered", zap.String("user_id", userID))
}

// Deliver enqueues the envelope on every open connection of the target
// user, best effort. Returns the number of connections reached; zero
// means the user is offline and the envelope is silently dropped.
// The catch-up fetch restores consistency later.
func (r *Registry) Deliver(userID string, env model.Envelope) int {
	r.mu.RLock()
	entry, ok := r.users[userID]
	r.mu.RUnlock()
	if !ok {
		return 0
	}

	// Per-target lock: concurrent senders to the same user cannot
	// interleave their envelopes differently across that user's
	// connections.
	entry.mu.Lock()
	defer entry.mu.Unlock()

	reached := 0
	for h := range entry.handles {
		if h.Enqueue(env) {
			reached++
		} else {
			r.logger.Warn("envelope dropped on full connection queue",
				zap.String("user_id", userID), zap.String("msg_id", env.ID))
		}
	}
	return reached
}

// Online reports whether the user has at least one open connection.
func (r *Registry) Online(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[userID]
	return ok
}
