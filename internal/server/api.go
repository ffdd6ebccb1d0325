package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fathomchat/fathom/internal/wire"
)

type sendRequest struct {
	SenderID string `json:"sender_id"`
	Text     string `json:"text"`
	Image    string `json:"image"`
}

// handleSend is the send-message path: it stamps the canonical stored form,
// persists it, notifies the relay exactly once, and returns the stored
// message so the sender can append its own copy without waiting on delivery.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	recipient := r.PathValue("recipient")

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SenderID == "" {
		http.Error(w, "sender_id is required", http.StatusBadRequest)
		return
	}

	msg := wire.Message{
		ID:          uuid.NewString(),
		SenderID:    req.SenderID,
		RecipientID: recipient,
		Text:        req.Text,
		Image:       req.Image,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.Append(msg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	delivered := s.hub.Relay(msg)
	s.log.Debug("message stored",
		zap.String("message_id", msg.ID),
		zap.String("sender_id", msg.SenderID),
		zap.String("recipient_id", msg.RecipientID),
		zap.Bool("delivered", delivered))

	writeJSON(w, http.StatusCreated, msg)
}

// handleThread serves the two-party history between the caller and a peer.
func (s *Server) handleThread(w http.ResponseWriter, r *http.Request) {
	peer := r.PathValue("peer")
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	msgs := s.store.Thread(userID, peer)
	if msgs == nil {
		msgs = []wire.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
