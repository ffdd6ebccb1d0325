// Package hub owns the live connections of a chat node: it attaches and
// detaches sessions, broadcasts presence to every connection, and relays
// persisted messages to their recipient's connection.
package hub

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/fathomchat/fathom/internal/presence"
	"github.com/fathomchat/fathom/internal/wire"
)

const defaultSendBuffer = 32

// Session is one live connection's server-side state. Events are consumed by
// the transport's write pump; Done fires when the session is cancelled and
// the transport must tear the connection down.
type Session struct {
	id          string
	userID      string
	events      chan wire.Event
	ctx         context.Context
	cancel      context.CancelFunc
	connectedAt time.Time
}

// ID returns the connection identifier assigned at attach time.
func (s *Session) ID() string { return s.id }

// UserID returns the identity carried by the handshake, empty for an
// unregistered connection.
func (s *Session) UserID() string { return s.userID }

// Events is the session's outbound queue.
func (s *Session) Events() <-chan wire.Event { return s.events }

// Done fires once the session has been cancelled.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// Options tunes hub behavior.
type Options struct {
	// SendBuffer is the per-session outbound queue depth; a session whose
	// queue is full is cancelled rather than allowed to block others.
	SendBuffer int
	// Metrics, when non-nil, receives the hub's prometheus collectors.
	Metrics prometheus.Registerer
}

// Hub fans server pushes out to live sessions. The presence registry it owns
// announces through the hub synchronously on every mutation.
type Hub struct {
	log        *zap.Logger
	metrics    *hubMetrics
	registry   *presence.InMemoryRegistry
	sendBuffer int

	sessions *sessionTable
}

// New builds a hub with its own connection registry wired to announce
// through it.
func New(log *zap.Logger, opts Options) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Hub{
		log:        log,
		sendBuffer: opts.SendBuffer,
		sessions:   newSessionTable(),
	}
	if h.sendBuffer <= 0 {
		h.sendBuffer = defaultSendBuffer
	}
	if opts.Metrics != nil {
		h.metrics = newHubMetrics(opts.Metrics)
	}
	h.registry = presence.NewInMemory(h.Announce)
	return h
}

// Attach admits a connection. A non-empty userID is registered, which
// announces the grown online set to every session, this one included. An
// empty userID attaches the session unregistered: it still receives
// announces but contributes no presence.
func (h *Hub) Attach(userID string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:          uuid.NewString(),
		userID:      userID,
		events:      make(chan wire.Event, h.sendBuffer),
		ctx:         ctx,
		cancel:      cancel,
		connectedAt: time.Now(),
	}
	h.sessions.put(s)
	h.metrics.incConnection()

	if userID == "" {
		h.log.Warn("connection carried no identity; left unregistered", zap.String("conn_id", s.id))
		return s
	}

	// cannot fail with a non-empty user id; triggers the presence announce
	// before Attach returns
	if err := h.registry.Register(userID, s.id); err != nil {
		h.log.Warn("register connection", zap.Error(err), zap.String("conn_id", s.id))
		return s
	}
	h.log.Info("user connected", zap.String("user_id", userID), zap.String("conn_id", s.id))
	return s
}

// Detach removes a session, unbinding its user if this session still holds
// the binding (a superseded connection must not unregister its successor).
// Detaching an already-detached session is a no-op.
func (h *Hub) Detach(s *Session) {
	if s == nil || !h.sessions.remove(s.id) {
		return
	}
	s.cancel()
	h.metrics.decConnection()

	if s.userID != "" {
		if connID, ok := h.registry.Lookup(s.userID); ok && connID == s.id {
			h.registry.Unregister(s.userID)
		}
		h.log.Info("user disconnected", zap.String("user_id", s.userID), zap.String("conn_id", s.id))
		return
	}
	h.log.Debug("unregistered connection closed", zap.String("conn_id", s.id))
}

// Announce pushes the online-user set to every live session. Delivery is
// best-effort and per-session FIFO; a slow session never delays the others.
func (h *Hub) Announce(online []string) {
	ev := wire.PresenceEvent(online)
	for _, s := range h.sessions.snapshot() {
		h.push(s, ev)
	}
	h.metrics.recordBroadcast(len(online))
}

// Relay pushes a persisted message to its recipient's current connection.
// An offline recipient means a silent drop: no retry, no queueing. The
// return value reports whether a push happened and exists for observability
// only.
func (h *Hub) Relay(m wire.Message) bool {
	connID, ok := h.registry.Lookup(m.RecipientID)
	if !ok {
		h.metrics.recordRelay("offline")
		h.log.Debug("relay target offline",
			zap.String("message_id", m.ID),
			zap.String("recipient_id", m.RecipientID))
		return false
	}

	s, ok := h.sessions.get(connID)
	if !ok {
		// registry and session table can diverge for the instant a
		// connection is torn down; treated as offline
		h.metrics.recordRelay("offline")
		return false
	}

	h.push(s, wire.MessageEvent(m))
	h.metrics.recordRelay("delivered")
	return true
}

// Online returns the currently registered user ids.
func (h *Hub) Online() []string {
	return h.registry.Snapshot()
}

// Registry exposes the hub's connection registry for read-side collaborators.
func (h *Hub) Registry() presence.Registry {
	return h.registry
}

// Close cancels every session. Used on server shutdown.
func (h *Hub) Close() {
	for _, s := range h.sessions.snapshot() {
		h.Detach(s)
	}
}

// push enqueues without blocking. A full queue means the consumer stopped
// draining; the session is cancelled so its transport tears down, isolating
// the failure to that one connection.
func (h *Hub) push(s *Session, ev wire.Event) {
	select {
	case <-s.ctx.Done():
	case s.events <- ev:
	default:
		s.cancel()
		h.metrics.recordSlowDrop()
		h.log.Warn("session send buffer full; dropping connection",
			zap.String("conn_id", s.id),
			zap.String("user_id", s.userID))
	}
}
