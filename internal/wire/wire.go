// Package wire defines the JSON events exchanged over a chat socket.
package wire

import "time"

// Event types pushed from server to client.
const (
	EventPresence = "presence"
	EventMessage  = "message"
)

// Event is the envelope for every server push. Presence events carry the
// full online-user set, never a delta.
type Event struct {
	Type    string   `json:"type"`
	Online  []string `json:"online,omitempty"`
	Message *Message `json:"message,omitempty"`
}

// Message is the canonical stored form of a chat message. It is built once
// by the send path and never mutated afterwards; the delivery layer only
// routes it.
type Message struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"sender_id"`
	RecipientID string    `json:"recipient_id"`
	Text        string    `json:"text,omitempty"`
	Image       string    `json:"image,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// HasContent reports whether the message carries at least one of a text body
// or an image reference.
func (m Message) HasContent() bool {
	return m.Text != "" || m.Image != ""
}

// PresenceEvent wraps an online-user set for the socket.
func PresenceEvent(online []string) Event {
	return Event{Type: EventPresence, Online: online}
}

// MessageEvent wraps a message push for the socket.
func MessageEvent(m Message) Event {
	return Event{Type: EventMessage, Message: &m}
}
