package client

import (
	"reflect"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/fathomchat/fathom/internal/wire"
)

func newTestConversations(t *testing.T) (*SessionManager, *Conversations) {
	t.Helper()
	m := NewSessionManager("http://127.0.0.1:0", zaptest.NewLogger(t))
	c := NewConversations(m, zaptest.NewLogger(t))
	c.SetRoster([]Contact{{ID: "a"}, {ID: "b"}, {ID: "c"}})
	c.Subscribe()
	return m, c
}

func rosterIDs(c *Conversations) []string {
	entries := c.Roster()
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Contact.ID)
	}
	return out
}

func TestInboundFromSelectedAppends(t *testing.T) {
	m, c := newTestConversations(t)
	c.SetSelected(&Contact{ID: "a"})

	m.feed.publish(wire.Message{ID: "m1", SenderID: "a", RecipientID: "me", Text: "hi"})

	msgs := c.Messages()
	if len(msgs) != 1 || msgs[0].ID != "m1" {
		t.Fatalf("expected m1 appended to active thread, got %v", msgs)
	}
	if n := c.Unread()["a"]; n != 0 {
		t.Fatalf("active conversation must not accrue unread, got %d", n)
	}
}

func TestInboundFromOtherIncrementsUnread(t *testing.T) {
	m, c := newTestConversations(t)
	c.SetSelected(&Contact{ID: "a"})

	m.feed.publish(wire.Message{ID: "m1", SenderID: "b", RecipientID: "me", Text: "psst"})
	m.feed.publish(wire.Message{ID: "m2", SenderID: "b", RecipientID: "me", Text: "psst"})

	if len(c.Messages()) != 0 {
		t.Fatalf("inactive conversation must not touch the visible thread")
	}
	if n := c.Unread()["b"]; n != 2 {
		t.Fatalf("expected unread 2 for b, got %d", n)
	}
}

func TestInboundPromotesSenderPreservingOrder(t *testing.T) {
	m, c := newTestConversations(t)

	m.feed.publish(wire.Message{ID: "m1", SenderID: "c", RecipientID: "me", Text: "x"})

	want := []string{"c", "a", "b"}
	if got := rosterIDs(c); !reflect.DeepEqual(got, want) {
		t.Fatalf("roster order mismatch: got %v, want %v", got, want)
	}

	// a second message from the front entry changes nothing
	m.feed.publish(wire.Message{ID: "m2", SenderID: "c", RecipientID: "me", Text: "x"})
	if got := rosterIDs(c); !reflect.DeepEqual(got, want) {
		t.Fatalf("roster order mismatch after repeat: got %v", got)
	}
}

func TestUnknownSenderLeavesRosterUntouched(t *testing.T) {
	m, c := newTestConversations(t)

	m.feed.publish(wire.Message{ID: "m1", SenderID: "stranger", RecipientID: "me", Text: "x"})

	if got := rosterIDs(c); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("roster changed for unknown sender: %v", got)
	}
	if n := c.Unread()["stranger"]; n != 1 {
		t.Fatalf("unread still counts for unknown sender, got %d", n)
	}
}

func TestSetSelectedClearsUnread(t *testing.T) {
	m, c := newTestConversations(t)
	c.SetSelected(&Contact{ID: "a"})

	m.feed.publish(wire.Message{ID: "m1", SenderID: "b", RecipientID: "me", Text: "x"})

	c.SetSelected(&Contact{ID: "b"})
	if _, ok := c.Unread()["b"]; ok {
		t.Fatal("expected b's unread key deleted on selection")
	}

	// clearing a contact with no pending count is a no-op
	before := c.Unread()
	c.SetSelected(&Contact{ID: "c"})
	if !reflect.DeepEqual(c.Unread(), before) {
		t.Fatalf("unread map changed by selecting a clean contact: %v", c.Unread())
	}
}

func TestSelectionReadAtHandleTime(t *testing.T) {
	m, c := newTestConversations(t)
	c.SetSelected(&Contact{ID: "a"})

	m.feed.publish(wire.Message{ID: "m1", SenderID: "b", RecipientID: "me", Text: "early"})
	c.SetSelected(&Contact{ID: "b"})
	m.feed.publish(wire.Message{ID: "m2", SenderID: "b", RecipientID: "me", Text: "late"})

	msgs := c.Messages()
	if len(msgs) != 1 || msgs[0].ID != "m2" {
		t.Fatalf("expected only the post-switch message in the thread, got %v", msgs)
	}
	if _, ok := c.Unread()["b"]; ok {
		t.Fatalf("unread for the now-active conversation should stay cleared")
	}
}

func TestDuplicateSubscribeIsNoop(t *testing.T) {
	m, c := newTestConversations(t)
	c.Subscribe()
	c.Subscribe()

	m.feed.publish(wire.Message{ID: "m1", SenderID: "b", RecipientID: "me", Text: "x"})

	if n := c.Unread()["b"]; n != 1 {
		t.Fatalf("duplicate listener detected: unread %d", n)
	}
}

func TestUnsubscribeStopsEvents(t *testing.T) {
	m, c := newTestConversations(t)

	c.Unsubscribe()
	c.Unsubscribe()
	m.feed.publish(wire.Message{ID: "m1", SenderID: "b", RecipientID: "me", Text: "x"})

	if len(c.Unread()) != 0 {
		t.Fatalf("event handled after unsubscribe: %v", c.Unread())
	}

	// resubscribing attaches exactly one fresh listener
	c.Subscribe()
	m.feed.publish(wire.Message{ID: "m2", SenderID: "b", RecipientID: "me", Text: "x"})
	if n := c.Unread()["b"]; n != 1 {
		t.Fatalf("expected unread 1 after resubscribe, got %d", n)
	}
}

func TestAppendLocalAndHistory(t *testing.T) {
	_, c := newTestConversations(t)
	c.SetSelected(&Contact{ID: "a"})

	c.LoadHistory([]wire.Message{
		{ID: "h1", SenderID: "a", RecipientID: "me", Text: "old"},
	})
	c.AppendLocal(wire.Message{ID: "s1", SenderID: "me", RecipientID: "a", Text: "sent"})

	msgs := c.Messages()
	if len(msgs) != 2 || msgs[0].ID != "h1" || msgs[1].ID != "s1" {
		t.Fatalf("unexpected thread contents: %v", msgs)
	}

	// switching away resets the thread for the next history load
	c.SetSelected(&Contact{ID: "b"})
	if len(c.Messages()) != 0 {
		t.Fatal("expected thread reset on selection switch")
	}
}
