package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fathomchat/fathom/internal/hub"
)

// handleSocket upgrades the connection and attaches it to the hub. The
// caller's identity arrives as the user_id query parameter; a missing
// identity leaves the socket attached but unregistered, so it contributes
// no presence and cannot receive relayed messages.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err), zap.String("remote", r.RemoteAddr))
		return
	}

	sess := s.hub.Attach(userID)
	go s.writePump(conn, sess)
	s.readPump(conn, sess)
	s.hub.Detach(sess)
}

// readPump owns the socket's read side. Clients send messages over the REST
// path, so inbound frames only serve disconnect detection and pong handling.
func (s *Server) readPump(conn *websocket.Conn, sess *hub.Session) {
	conn.SetReadLimit(s.cfg.Socket.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.Socket.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.Socket.PongTimeout))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("socket read ended", zap.Error(err), zap.String("conn_id", sess.ID()))
			}
			return
		}
		// inbound payloads are not part of the socket contract
	}
}

// writePump drains the session's event queue onto the socket. It closes the
// connection on exit, which unblocks the read pump and detaches the session.
func (s *Server) writePump(conn *websocket.Conn, sess *hub.Session) {
	ticker := time.NewTicker(s.cfg.Socket.PingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case ev := <-sess.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.Socket.WriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				s.log.Debug("socket write failed", zap.Error(err), zap.String("conn_id", sess.ID()))
				return
			}
		case <-sess.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.Socket.WriteTimeout))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.Socket.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
