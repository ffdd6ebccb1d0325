// Package client implements the client half of the chat socket: a session
// manager bound to the authentication lifecycle, a subscription feed for
// inbound message pushes, and the conversation state that consumes them.
package client

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fathomchat/fathom/internal/wire"
)

// State names the session manager's connection lifecycle stage.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// SessionManager owns the one live socket a client keeps open while
// authenticated. Connect and Disconnect are idempotent; presence pushes are
// republished through OnlineUsers and message pushes through Subscribe.
type SessionManager struct {
	log     *zap.Logger
	baseURL string
	dialer  *websocket.Dialer
	feed    *feed

	mu     sync.Mutex
	state  State
	userID string
	conn   *websocket.Conn
	online []string
}

// NewSessionManager builds a manager for a server base URL
// (http://host:port; the scheme is rewritten for the socket dial).
func NewSessionManager(baseURL string, log *zap.Logger) *SessionManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionManager{
		log:     log,
		baseURL: strings.TrimRight(baseURL, "/"),
		dialer:  websocket.DefaultDialer,
		feed:    newFeed(),
		state:   StateDisconnected,
	}
}

// Connect opens the socket carrying the authenticated identity. Calling it
// with no identity is a no-op: the manager is defensive against being
// invoked before identity resolution completes. Calling it while already
// connecting or connected is likewise a no-op.
func (m *SessionManager) Connect(userID string) error {
	m.mu.Lock()
	if userID == "" {
		m.mu.Unlock()
		m.log.Debug("connect requested without identity; ignoring")
		return nil
	}
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return nil
	}
	m.state = StateConnecting
	m.userID = userID
	m.mu.Unlock()

	conn, _, err := m.dialer.Dial(m.socketURL(userID), nil)
	if err != nil {
		m.mu.Lock()
		m.state = StateDisconnected
		m.userID = ""
		m.mu.Unlock()
		return fmt.Errorf("dial chat socket: %w", err)
	}

	m.mu.Lock()
	if m.state != StateConnecting {
		// Disconnect raced the dial; drop the fresh socket
		m.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	m.conn = conn
	m.state = StateConnected
	m.mu.Unlock()

	m.log.Info("chat socket connected", zap.String("user_id", userID))
	go m.readLoop(conn)
	return nil
}

// Disconnect closes the socket. The socket is torn down first and the
// identity cleared after, so no push can race into a half-torn-down client.
// Double-disconnect is a no-op.
func (m *SessionManager) Disconnect() {
	m.mu.Lock()
	if m.state == StateDisconnected {
		m.mu.Unlock()
		return
	}
	conn := m.conn
	m.conn = nil
	m.state = StateDisconnected
	m.online = nil
	m.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}

	m.mu.Lock()
	m.userID = ""
	m.mu.Unlock()
	m.log.Info("chat socket closed")
}

// State returns the current lifecycle stage.
func (m *SessionManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// UserID returns the identity the session was opened with.
func (m *SessionManager) UserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userID
}

// OnlineUsers returns the last announced online-user set.
func (m *SessionManager) OnlineUsers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.online))
	copy(out, m.online)
	return out
}

// Subscribe registers a handler for inbound message pushes. The returned
// subscription's Cancel is idempotent and guarantees no event fires after it
// returns.
func (m *SessionManager) Subscribe(handler func(wire.Message)) *Subscription {
	return m.feed.subscribe(handler)
}

func (m *SessionManager) readLoop(conn *websocket.Conn) {
	for {
		var ev wire.Event
		if err := conn.ReadJSON(&ev); err != nil {
			m.mu.Lock()
			if m.conn == conn {
				// transport-level drop; reconnection is the caller's call
				m.conn = nil
				m.state = StateDisconnected
				m.online = nil
				m.log.Info("chat socket dropped", zap.Error(err))
			}
			m.mu.Unlock()
			return
		}

		switch ev.Type {
		case wire.EventPresence:
			m.mu.Lock()
			m.online = ev.Online
			m.mu.Unlock()
		case wire.EventMessage:
			if ev.Message != nil {
				m.feed.publish(*ev.Message)
			}
		default:
			m.log.Debug("unknown event type", zap.String("type", ev.Type))
		}
	}
}

func (m *SessionManager) socketURL(userID string) string {
	u := m.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws?user_id=" + url.QueryEscape(userID)
}
