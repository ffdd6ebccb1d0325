package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"github.com/fathomchat/fathom/internal/config"
	"github.com/fathomchat/fathom/internal/store"
	"github.com/fathomchat/fathom/internal/wire"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.Config{
		Socket: config.SocketConfig{
			SendBuffer:     32,
			WriteTimeout:   2 * time.Second,
			PongTimeout:    10 * time.Second,
			PingInterval:   5 * time.Second,
			MaxMessageSize: 4096,
		},
	}
	srv := New(cfg, zaptest.NewLogger(t), store.NewInMemory())
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts
}

func dialSocket(t *testing.T, ts *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	if userID != "" {
		url += "?user_id=" + userID
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) wire.Event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev wire.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func expectPresence(t *testing.T, conn *websocket.Conn, online []string) {
	t.Helper()
	ev := readEvent(t, conn)
	if ev.Type != wire.EventPresence {
		t.Fatalf("expected presence event, got %s", ev.Type)
	}
	if !reflect.DeepEqual(ev.Online, online) {
		t.Fatalf("online set mismatch: got %v, want %v", ev.Online, online)
	}
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if _, raw, err := conn.ReadMessage(); err == nil {
		t.Fatalf("unexpected push: %s", raw)
	}
}

func postMessage(t *testing.T, ts *httptest.Server, recipient, sender, text string) wire.Message {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"sender_id": sender, "text": text})
	resp, err := http.Post(ts.URL+"/api/messages/"+recipient, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post message: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var msg wire.Message
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return msg
}

func TestHandshakeAndPresenceBroadcast(t *testing.T) {
	ts := newTestServer(t)

	conn1 := dialSocket(t, ts, "u1")
	expectPresence(t, conn1, []string{"u1"})

	conn2 := dialSocket(t, ts, "u2")
	expectPresence(t, conn1, []string{"u1", "u2"})
	expectPresence(t, conn2, []string{"u1", "u2"})

	_ = conn1.Close()
	expectPresence(t, conn2, []string{"u2"})
}

func TestHandshakeWithoutIdentity(t *testing.T) {
	ts := newTestServer(t)

	anon := dialSocket(t, ts, "")
	expectSilence(t, anon)

	// the unregistered socket still receives presence pushes
	conn := dialSocket(t, ts, "u1")
	expectPresence(t, anon, []string{"u1"})
	expectPresence(t, conn, []string{"u1"})
}

func TestSendDeliversToRecipientOnly(t *testing.T) {
	ts := newTestServer(t)

	sender := dialSocket(t, ts, "u1")
	expectPresence(t, sender, []string{"u1"})
	recipient := dialSocket(t, ts, "u2")
	expectPresence(t, sender, []string{"u1", "u2"})
	expectPresence(t, recipient, []string{"u1", "u2"})

	stored := postMessage(t, ts, "u2", "u1", "hi")
	if stored.ID == "" || stored.CreatedAt.IsZero() {
		t.Fatalf("expected canonical stored form, got %+v", stored)
	}

	ev := readEvent(t, recipient)
	if ev.Type != wire.EventMessage {
		t.Fatalf("expected message event, got %s", ev.Type)
	}
	if ev.Message.ID != stored.ID || ev.Message.Text != "hi" {
		t.Fatalf("pushed message mismatch: %+v", ev.Message)
	}

	// the sender's copy arrives via the send response, never the socket
	expectSilence(t, sender)
}

func TestSendToOfflineRecipient(t *testing.T) {
	ts := newTestServer(t)

	stored := postMessage(t, ts, "nobody", "u1", "hello?")
	if stored.RecipientID != "nobody" {
		t.Fatalf("unexpected stored message: %+v", stored)
	}
}

func TestSendValidation(t *testing.T) {
	ts := newTestServer(t)

	cases := []map[string]string{
		{"text": "hi"},      // no sender
		{"sender_id": "u1"}, // no content
		{"sender_id": "u1", "text": ""},
	}
	for i, body := range cases {
		raw, _ := json.Marshal(body)
		resp, err := http.Post(ts.URL+"/api/messages/u2", "application/json", bytes.NewReader(raw))
		if err != nil {
			t.Fatalf("case %d: post: %v", i, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("case %d: expected 400, got %d", i, resp.StatusCode)
		}
	}
}

func TestThreadHistory(t *testing.T) {
	ts := newTestServer(t)

	postMessage(t, ts, "u2", "u1", "first")
	postMessage(t, ts, "u1", "u2", "second")
	postMessage(t, ts, "u3", "u1", "other thread")

	resp, err := http.Get(ts.URL + "/api/messages/u2?user_id=u1")
	if err != nil {
		t.Fatalf("get thread: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var msgs []wire.Message
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		t.Fatalf("decode thread: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Text != "first" || msgs[1].Text != "second" {
		t.Fatalf("thread out of order: %s, %s", msgs[0].Text, msgs[1].Text)
	}
}

func TestReconnectReannouncesPresence(t *testing.T) {
	ts := newTestServer(t)

	watcher := dialSocket(t, ts, "watcher")
	expectPresence(t, watcher, []string{"watcher"})

	conn := dialSocket(t, ts, "u1")
	expectPresence(t, watcher, []string{"u1", "watcher"})
	_ = conn.Close()
	expectPresence(t, watcher, []string{"watcher"})

	// a fresh connection re-runs the register path with its carried identity
	fresh := dialSocket(t, ts, "u1")
	expectPresence(t, watcher, []string{"u1", "watcher"})
	expectPresence(t, fresh, []string{"u1", "watcher"})
}
