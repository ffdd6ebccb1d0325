package client

import (
	"sync"

	"github.com/fathomchat/fathom/internal/wire"
)

// feed dispatches inbound message events to subscribers. Handlers run under
// the dispatch lock: Cancel acquires the same lock, so once Cancel returns
// no further event can reach the handler.
type feed struct {
	mu       sync.Mutex
	handlers map[uint64]func(wire.Message)
	nextID   uint64
}

func newFeed() *feed {
	return &feed{handlers: make(map[uint64]func(wire.Message))}
}

func (f *feed) subscribe(handler func(wire.Message)) *Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.handlers[id] = handler
	return &Subscription{feed: f, id: id}
}

func (f *feed) publish(m wire.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, handler := range f.handlers {
		handler(m)
	}
}

// Subscription is the disposable token returned by Subscribe.
type Subscription struct {
	feed *feed
	id   uint64
	once sync.Once
}

// Cancel removes the handler. It is idempotent and must not be called from
// inside the handler itself.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.feed.mu.Lock()
		delete(s.feed.handlers, s.id)
		s.feed.mu.Unlock()
	})
}
