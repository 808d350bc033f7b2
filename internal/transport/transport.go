// Package transport defines the capability surface the bridge consumes
// from the messaging network: connect, receive events, send text. The
// wire protocol behind it is a black box; see the meow and mock
// subpackages for the two implementations.
package transport

import (
	"context"
	"encoding/json"
	"time"
)

// CloseCode classifies why a connection closed.
type CloseCode int

const (
	// CloseGeneric covers transient disconnects; retried with backoff.
	CloseGeneric CloseCode = iota
	// CloseLoggedOut is terminal auth loss (logged-out / 401-equivalent).
	// Credentials must be wiped and the session re-paired.
	CloseLoggedOut
	// CloseRestartRequired is the transport's own "reconnect now" signal
	// (stream code 515); retried almost immediately.
	CloseRestartRequired
)

func (c CloseCode) String() string {
	switch c {
	case CloseLoggedOut:
		return "logged_out"
	case CloseRestartRequired:
		return "restart_required"
	default:
		return "generic"
	}
}

// Category distinguishes live deliveries from history backfill.
type Category string

const (
	CategoryLive    Category = "live"
	CategoryHistory Category = "history"
)

// Message is one normalized inbound message.
type Message struct {
	ChatJID   string
	SenderJID string
	ID        string
	Text      string
	FromMe    bool
	Timestamp time.Time
}

// Batch is a group of messages sharing a delivery category.
type Batch struct {
	Category Category
	Messages []Message
}

// SelfIdentity carries the account's own addresses, known after a
// successful open.
type SelfIdentity struct {
	StableJID string
	LinkedJID string
}

// Hooks receive transport events. Implementations invoke hooks
// sequentially per connection; a nil hook is skipped.
type Hooks struct {
	// OnCredentials fires when the session credential state changes.
	// raw is an opaque serialized snapshot.
	OnCredentials func(raw json.RawMessage)
	// OnPairingCode fires with a one-time pairing payload (QR content).
	OnPairingCode func(code string)
	// OnOpened fires when the connection is live and authenticated.
	OnOpened func(self SelfIdentity)
	// OnClosed fires when the connection is lost, with a close code.
	OnClosed func(code CloseCode)
	// OnChatMetadata fires with linked-device ↔ stable identity hints.
	OnChatMetadata func(linkedJID, stableJID string)
	// OnMessages fires per inbound message batch.
	OnMessages func(batch Batch)
}

// Handle is one live connection.
type Handle interface {
	// SendText delivers text to a chat and returns the server-assigned
	// message ID.
	SendText(ctx context.Context, chatJID, text string) (string, error)
	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// Dialer establishes connections.
type Dialer interface {
	Dial(ctx context.Context, hooks Hooks) (Handle, error)
}
