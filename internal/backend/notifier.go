// Package backend is the HTTP client side of the agent backend: the
// bridge forwards filtered inbound messages to it and otherwise treats
// it as an opaque request/response peer.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SecretHeader authenticates both directions of sidecar traffic.
const SecretHeader = "X-Sidecar-Secret"

const requestTimeout = 10 * time.Second

// InboundMessage is the payload posted to the backend for each
// forwarded message.
type InboundMessage struct {
	From         string `json:"from"`
	FromIdentity string `json:"from_identity,omitempty"`
	Text         string `json:"text"`
	MessageID    string `json:"message_id,omitempty"`
	FromMe       bool   `json:"from_me"`
	IsGroup      bool   `json:"is_group"`
	SelfJID      string `json:"self_jid,omitempty"`
}

// Notifier posts inbound messages to the backend's inbound URL.
type Notifier struct {
	url    string
	secret string
	client *http.Client
}

// NewNotifier creates a notifier for the given inbound URL. secret may
// be empty, in which case no auth header is sent.
func NewNotifier(url, secret string) *Notifier {
	return &Notifier{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: requestTimeout},
	}
}

// Notify delivers one message. The response body is ignored beyond
// success/failure; the bridge never retries a failed notification.
func (n *Notifier) Notify(ctx context.Context, msg InboundMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal inbound message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build inbound request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.secret != "" {
		req.Header.Set(SecretHeader, n.secret)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify backend: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("backend returned status %d", resp.StatusCode)
	}
	return nil
}
