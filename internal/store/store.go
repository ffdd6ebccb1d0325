// Package store is the persistence seam the delivery layer hangs off. The
// in-memory implementation stands in for a real database: the relay is only
// ever triggered after Append confirms a message is held.
package store

import (
	"errors"
	"sync"
	"time"

	"github.com/fathomchat/fathom/internal/wire"
)

// MessageStore persists canonical messages and serves two-party threads.
type MessageStore interface {
	Append(m wire.Message) error
	Thread(userID, peerID string) []wire.Message
}

// InMemoryStore keeps messages in insertion order for the life of the
// process.
type InMemoryStore struct {
	mu       sync.RWMutex
	messages []wire.Message
	nowFn    func() time.Time
}

// NewInMemory builds an empty store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{nowFn: time.Now}
}

// Append stores a message. The message must already be in canonical form.
func (s *InMemoryStore) Append(m wire.Message) error {
	if m.ID == "" {
		return errors.New("message id is required")
	}
	if m.SenderID == "" || m.RecipientID == "" {
		return errors.New("sender and recipient are required")
	}
	if !m.HasContent() {
		return errors.New("message needs a text body or an image")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.nowFn().UTC()
	}
	s.messages = append(s.messages, m)
	return nil
}

// Thread returns every message exchanged between two users, oldest first.
func (s *InMemoryStore) Thread(userID, peerID string) []wire.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []wire.Message
	for _, m := range s.messages {
		if (m.SenderID == userID && m.RecipientID == peerID) ||
			(m.SenderID == peerID && m.RecipientID == userID) {
			out = append(out, m)
		}
	}
	return out
}
