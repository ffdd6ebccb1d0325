// Package presence tracks which users currently hold a live connection.
package presence

import (
	"errors"
	"sort"
	"sync"
)

// ErrNoIdentity rejects a registration that carries no user identifier. The
// caller treats this as a malformed handshake and leaves the connection
// unregistered.
var ErrNoIdentity = errors.New("user id is required")

// Registry is the single source of truth for who is reachable. At most one
// connection id is bound per user; a new registration for an already-bound
// user overwrites the prior entry (last-connect-wins).
type Registry interface {
	Register(userID, connID string) error
	Unregister(userID string)
	Lookup(userID string) (string, bool)
	Snapshot() []string
}

// InMemoryRegistry is a mutex-guarded map registry for a single process.
// announceMu serializes each mutation with its announce: a later mutation
// cannot start until the earlier announce returned, so announces always
// deliver in generation order. Reads never wait on an in-flight announce.
type InMemoryRegistry struct {
	announceMu sync.Mutex
	mu         sync.RWMutex
	entries    map[string]string
	announce   func(online []string)
}

// NewInMemory builds a registry. The announce hook, if non-nil, runs
// synchronously after every successful mutation with the post-mutation
// online set; it must not call back into a mutating registry method.
func NewInMemory(announce func(online []string)) *InMemoryRegistry {
	return &InMemoryRegistry{
		entries:  make(map[string]string),
		announce: announce,
	}
}

// Register binds a user to a connection, overwriting any prior binding.
func (r *InMemoryRegistry) Register(userID, connID string) error {
	if userID == "" {
		return ErrNoIdentity
	}

	r.announceMu.Lock()
	defer r.announceMu.Unlock()

	r.mu.Lock()
	r.entries[userID] = connID
	online := r.snapshotLocked()
	r.mu.Unlock()

	if r.announce != nil {
		r.announce(online)
	}
	return nil
}

// Unregister removes a user's binding. Removing an absent user is a no-op
// and does not announce.
func (r *InMemoryRegistry) Unregister(userID string) {
	r.announceMu.Lock()
	defer r.announceMu.Unlock()

	r.mu.Lock()
	if _, ok := r.entries[userID]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.entries, userID)
	online := r.snapshotLocked()
	r.mu.Unlock()

	if r.announce != nil {
		r.announce(online)
	}
}

// Lookup returns the connection currently bound to a user.
func (r *InMemoryRegistry) Lookup(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connID, ok := r.entries[userID]
	return connID, ok
}

// Snapshot returns the sorted set of registered user ids.
func (r *InMemoryRegistry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *InMemoryRegistry) snapshotLocked() []string {
	out := make([]string, 0, len(r.entries))
	for userID := range r.entries {
		out = append(out, userID)
	}
	sort.Strings(out)
	return out
}
