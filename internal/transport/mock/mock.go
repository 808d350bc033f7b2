// Package mock is an in-memory transport for development and tests.
// Dials always succeed, sends are logged no-ops with generated message
// IDs, and tests can inject inbound traffic through the captured hooks.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/wacodex/internal/transport"
)

// SelfJID is the fixed identity a mock connection reports on open.
const SelfJID = "15550000000@s.whatsapp.net"

// Dialer creates mock connections.
type Dialer struct {
	logger *zap.Logger

	mu      sync.Mutex
	handles []*Handle
}

// NewDialer creates a mock dialer.
func NewDialer(logger *zap.Logger) *Dialer {
	return &Dialer{logger: logger}
}

// Dial returns a live mock connection and immediately reports it opened
// under the fixed mock identity.
func (d *Dialer) Dial(_ context.Context, hooks transport.Hooks) (transport.Handle, error) {
	h := &Handle{hooks: hooks, logger: d.logger}

	d.mu.Lock()
	d.handles = append(d.handles, h)
	d.mu.Unlock()

	if hooks.OnOpened != nil {
		hooks.OnOpened(transport.SelfIdentity{StableJID: SelfJID})
	}
	return h, nil
}

// Last returns the most recently dialed handle, nil if none.
func (d *Dialer) Last() *Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.handles) == 0 {
		return nil
	}
	return d.handles[len(d.handles)-1]
}

// Handle is one mock connection.
type Handle struct {
	hooks  transport.Hooks
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
	sent   []SentMessage
}

// SentMessage records one SendText call.
type SentMessage struct {
	ChatJID string
	Text    string
	ID      string
}

// SendText logs the message and returns a generated ID.
func (h *Handle) SendText(_ context.Context, chatJID, text string) (string, error) {
	id := uuid.NewString()

	h.mu.Lock()
	h.sent = append(h.sent, SentMessage{ChatJID: chatJID, Text: text, ID: id})
	h.mu.Unlock()

	h.logger.Info("mock send",
		zap.String("chat", chatJID),
		zap.String("message_id", id),
		zap.Int("text_len", len(text)))
	return id, nil
}

// Close marks the handle closed. It does not fire OnClosed; use
// Disconnect to simulate a network-side close.
func (h *Handle) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Sent returns a copy of the messages sent through this handle.
func (h *Handle) Sent() []SentMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]SentMessage, len(h.sent))
	copy(out, h.sent)
	return out
}

// Deliver injects a live inbound message, as if the network delivered it.
func (h *Handle) Deliver(chatJID, senderJID, text string) string {
	id := uuid.NewString()
	if h.hooks.OnMessages != nil {
		h.hooks.OnMessages(transport.Batch{
			Category: transport.CategoryLive,
			Messages: []transport.Message{{
				ChatJID:   chatJID,
				SenderJID: senderJID,
				ID:        id,
				Text:      text,
				Timestamp: time.Now(),
			}},
		})
	}
	return id
}

// Disconnect simulates a network-side close with the given code.
func (h *Handle) Disconnect(code transport.CloseCode) {
	if h.hooks.OnClosed != nil {
		h.hooks.OnClosed(code)
	}
}
