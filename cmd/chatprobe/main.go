// chatprobe exercises a running chatd end to end: it opens two sockets,
// waits for both identities to show up in the presence feed, sends one
// message over the REST surface, and confirms the recipient receives the
// push. Exit status is the only contract; it is meant for smoke checks.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/fathomchat/fathom/internal/client"
	"github.com/fathomchat/fathom/internal/wire"
)

type probeConfig struct {
	serverURL string
	sender    string
	recipient string
	text      string
	timeout   time.Duration
}

func main() {
	cfg := parseConfig()
	if err := run(cfg); err != nil {
		log.Fatalf("probe failed: %v", err)
	}
	log.Printf("probe ok: %s -> %s delivered", cfg.sender, cfg.recipient)
}

func parseConfig() probeConfig {
	var cfg probeConfig
	flag.StringVar(&cfg.serverURL, "server", "http://127.0.0.1:8080", "Base URL of the chat server")
	flag.StringVar(&cfg.sender, "sender", "probe-sender", "Identity for the sending session")
	flag.StringVar(&cfg.recipient, "recipient", "probe-recipient", "Identity for the receiving session")
	flag.StringVar(&cfg.text, "text", "probe message", "Text body to relay")
	flag.DurationVar(&cfg.timeout, "timeout", 15*time.Second, "Overall timeout for the probe")
	flag.Parse()

	if cfg.sender == cfg.recipient {
		log.Fatalf("sender and recipient must differ, both are %q", cfg.sender)
	}
	return cfg
}

func run(cfg probeConfig) error {
	logger := zap.NewNop()
	deadline := time.Now().Add(cfg.timeout)

	receiver := client.NewSessionManager(cfg.serverURL, logger)
	if err := receiver.Connect(cfg.recipient); err != nil {
		return fmt.Errorf("connect recipient: %w", err)
	}
	defer receiver.Disconnect()

	pushes := make(chan wire.Message, 1)
	sub := receiver.Subscribe(func(m wire.Message) {
		select {
		case pushes <- m:
		default:
		}
	})
	defer sub.Cancel()

	sender := client.NewSessionManager(cfg.serverURL, logger)
	if err := sender.Connect(cfg.sender); err != nil {
		return fmt.Errorf("connect sender: %w", err)
	}
	defer sender.Disconnect()

	if err := waitOnline(receiver, deadline, cfg.sender, cfg.recipient); err != nil {
		return err
	}

	if err := postMessage(cfg); err != nil {
		return err
	}

	select {
	case m := <-pushes:
		if m.SenderID != cfg.sender || m.Text != cfg.text {
			return fmt.Errorf("unexpected push: sender %q text %q", m.SenderID, m.Text)
		}
	case <-time.After(time.Until(deadline)):
		return fmt.Errorf("no push received within %s", cfg.timeout)
	}
	return nil
}

func waitOnline(m *client.SessionManager, deadline time.Time, users ...string) error {
	for time.Now().Before(deadline) {
		online := m.OnlineUsers()
		allSeen := true
		for _, u := range users {
			if !slices.Contains(online, u) {
				allSeen = false
				break
			}
		}
		if allSeen {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("presence never showed %v", users)
}

func postMessage(cfg probeConfig) error {
	body, err := json.Marshal(map[string]string{"sender_id": cfg.sender, "text": cfg.text})
	if err != nil {
		return err
	}
	resp, err := http.Post(
		fmt.Sprintf("%s/api/messages/%s", cfg.serverURL, cfg.recipient),
		"application/json", bytes.NewReader(body),
	)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("send message: status %d", resp.StatusCode)
	}
	return nil
}
