package client

import (
	"sync"

	"go.uber.org/zap"

	"github.com/fathomchat/fathom/internal/wire"
)

// Contact is one counterpart user in the client's conversation list.
type Contact struct {
	ID         string `json:"id"`
	FullName   string `json:"full_name"`
	ProfilePic string `json:"profile_pic,omitempty"`
}

// ConversationEntry pairs a contact with its pending unread count.
type ConversationEntry struct {
	Contact Contact
	Unread  int
}

// Conversations keeps the client's local chat state in sync with inbound
// message pushes: the active thread's message list, per-contact unread
// counters, and the recency ordering of the conversation list.
type Conversations struct {
	log     *zap.Logger
	session *SessionManager

	mu       sync.Mutex
	sub      *Subscription
	roster   []Contact
	selected *Contact
	messages []wire.Message
	unread   map[string]int
}

// NewConversations builds conversation state fed by the given session.
func NewConversations(session *SessionManager, log *zap.Logger) *Conversations {
	if log == nil {
		log = zap.NewNop()
	}
	return &Conversations{
		log:     log,
		session: session,
		unread:  make(map[string]int),
	}
}

// Subscribe registers the inbound-message listener. Subscribing while
// already subscribed is a no-op: a duplicate listener would insert every
// message twice.
func (c *Conversations) Subscribe() {
	c.mu.Lock()
	already := c.sub != nil
	c.mu.Unlock()
	if already {
		return
	}

	sub := c.session.Subscribe(c.handleMessage)

	c.mu.Lock()
	if c.sub != nil {
		// concurrent Subscribe won the race
		c.mu.Unlock()
		sub.Cancel()
		return
	}
	c.sub = sub
	c.mu.Unlock()
}

// Unsubscribe removes the listener; no event is handled after it returns.
// Idempotent.
func (c *Conversations) Unsubscribe() {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
}

// SetRoster replaces the conversation list, preserving nothing of the prior
// ordering.
func (c *Conversations) SetRoster(contacts []Contact) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roster = make([]Contact, len(contacts))
	copy(c.roster, contacts)
}

// SetSelected switches the active conversation. The new selection's unread
// key is deleted outright, distinguishing "never unread" from "cleared";
// clearing a contact with no pending count is a no-op. The message list is
// reset for the caller to load the thread history.
func (c *Conversations) SetSelected(contact *Contact) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.messages = nil
	if contact == nil {
		c.selected = nil
		return
	}
	cp := *contact
	c.selected = &cp
	delete(c.unread, cp.ID)
}

// LoadHistory seeds the active thread, typically from the history fetch that
// follows SetSelected.
func (c *Conversations) LoadHistory(msgs []wire.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = make([]wire.Message, len(msgs))
	copy(c.messages, msgs)
}

// AppendLocal appends the sender's own copy of a sent message, taken from
// the send response rather than the socket.
func (c *Conversations) AppendLocal(m wire.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, m)
}

// Selected returns a copy of the active contact, nil when none is open.
func (c *Conversations) Selected() *Contact {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selected == nil {
		return nil
	}
	cp := *c.selected
	return &cp
}

// Messages returns the active thread in arrival order.
func (c *Conversations) Messages() []wire.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]wire.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Unread returns the pending unread counts keyed by contact id.
func (c *Conversations) Unread() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.unread))
	for id, n := range c.unread {
		out[id] = n
	}
	return out
}

// Roster returns the conversation list in recency order with unread counts.
func (c *Conversations) Roster() []ConversationEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ConversationEntry, 0, len(c.roster))
	for _, ct := range c.roster {
		out = append(out, ConversationEntry{Contact: ct, Unread: c.unread[ct.ID]})
	}
	return out
}

// handleMessage applies one inbound push. The branch looks at the selection
// as it is when the event is handled, not when the listener was registered,
// so switching conversations mid-flight routes correctly.
func (c *Conversations) handleMessage(m wire.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.selected != nil && m.SenderID == c.selected.ID {
		c.messages = append(c.messages, m)
	} else {
		c.unread[m.SenderID]++
	}
	c.promoteLocked(m.SenderID)
}

// promoteLocked moves a contact to the front of the roster, keeping the
// relative order of everyone else. Unknown senders are left for the next
// roster refresh.
func (c *Conversations) promoteLocked(userID string) {
	for i, ct := range c.roster {
		if ct.ID != userID {
			continue
		}
		if i == 0 {
			return
		}
		moved := c.roster[i]
		c.roster = append(c.roster[:i], c.roster[i+1:]...)
		c.roster = append([]Contact{moved}, c.roster...)
		return
	}
}
