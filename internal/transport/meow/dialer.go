// Package meow implements the transport on whatsmeow. The device store
// (noise keys, sessions, pre-keys, app state) lives in a SQLite database
// under the auth directory; the credential snapshots surfaced through
// the hooks are opaque summaries of that state.
package meow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/matheus3301/wacodex/internal/transport"

	_ "github.com/mattn/go-sqlite3"
)

// DeviceDBFile is the whatsmeow device store filename under the auth dir.
const DeviceDBFile = "whatsmeow.db"

// Dialer establishes WhatsApp connections.
type Dialer struct {
	authDir string
	logger  *zap.Logger
}

// NewDialer creates a dialer storing device state under authDir.
func NewDialer(authDir string, logger *zap.Logger) *Dialer {
	return &Dialer{authDir: authDir, logger: logger}
}

// Dial opens the device store, connects, and wires whatsmeow events to
// the hooks. When no device is registered yet it starts the QR pairing
// flow and surfaces codes through OnPairingCode.
func (d *Dialer) Dial(ctx context.Context, hooks transport.Hooks) (transport.Handle, error) {
	// Device name shown on the phone's linked devices list.
	wastore.SetOSInfo("Wacodex", [3]uint32{0, 1, 0})

	if err := os.MkdirAll(d.authDir, 0700); err != nil {
		return nil, fmt.Errorf("create auth dir: %w", err)
	}

	dbPath := filepath.Join(d.authDir, DeviceDBFile)
	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", dbPath),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create device store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = container.Close()
		return nil, fmt.Errorf("get device store: %w", err)
	}

	client := whatsmeow.NewClient(device, nil)
	// Reconnects are owned by the connection manager, not the client.
	client.EnableAutoReconnect = false

	h := &Handle{
		client:    client,
		container: container,
		hooks:     hooks,
		logger:    d.logger,
	}
	client.AddEventHandler(h.dispatch)

	if client.Store.ID == nil {
		// GetQRChannel must be called before Connect.
		qrChan, err := client.GetQRChannel(ctx)
		if err != nil {
			_ = container.Close()
			return nil, fmt.Errorf("get QR channel: %w", err)
		}
		go h.streamQR(qrChan)
	}

	if err := client.Connect(); err != nil {
		_ = container.Close()
		return nil, fmt.Errorf("connect: %w", err)
	}
	return h, nil
}

// Handle is one live whatsmeow connection.
type Handle struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	hooks     transport.Hooks
	logger    *zap.Logger
	closeOnce sync.Once
}

// SendText delivers a plain text message and returns the server ID.
func (h *Handle) SendText(ctx context.Context, chatJID, text string) (string, error) {
	to, err := types.ParseJID(chatJID)
	if err != nil {
		return "", fmt.Errorf("parse JID: %w", err)
	}
	resp, err := h.client.SendMessage(ctx, to, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return resp.ID, nil
}

// Close disconnects and releases the device store.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		h.client.Disconnect()
		if err := h.container.Close(); err != nil {
			h.logger.Warn("close device store", zap.Error(err))
		}
	})
	return nil
}

func (h *Handle) dispatch(raw any) {
	switch evt := raw.(type) {
	case *events.Connected:
		h.logger.Info("whatsapp connected")
		h.surfaceCredentials()
		if h.hooks.OnOpened != nil {
			h.hooks.OnOpened(h.self())
		}
	case *events.PairSuccess:
		h.logger.Info("pairing succeeded", zap.String("jid", evt.ID.String()))
		h.surfaceCredentials()
	case *events.Message:
		h.dispatchMessage(evt)
	case *events.HistorySync:
		h.dispatchHistory(evt)
	case *events.LoggedOut:
		h.logger.Warn("whatsapp logged out", zap.String("reason", evt.Reason.String()))
		h.closed(transport.CloseLoggedOut)
	case *events.StreamReplaced:
		h.logger.Warn("stream replaced by another connection")
		h.closed(transport.CloseRestartRequired)
	case *events.ConnectFailure:
		h.logger.Warn("connect failure", zap.String("reason", evt.Reason.String()))
		if evt.Reason == events.ConnectFailureLoggedOut {
			h.closed(transport.CloseLoggedOut)
		} else {
			h.closed(transport.CloseGeneric)
		}
	case *events.Disconnected:
		h.logger.Warn("whatsapp disconnected")
		h.closed(transport.CloseGeneric)
	}
}

func (h *Handle) closed(code transport.CloseCode) {
	if h.hooks.OnClosed != nil {
		h.hooks.OnClosed(code)
	}
}

func (h *Handle) dispatchMessage(evt *events.Message) {
	// Surface LID ↔ phone-number pairs the server attaches to envelopes.
	if h.hooks.OnChatMetadata != nil && !evt.Info.SenderAlt.IsEmpty() {
		h.hooks.OnChatMetadata(
			evt.Info.Sender.ToNonAD().String(),
			evt.Info.SenderAlt.ToNonAD().String(),
		)
	}
	if h.hooks.OnMessages == nil {
		return
	}
	h.hooks.OnMessages(transport.Batch{
		Category: transport.CategoryLive,
		Messages: []transport.Message{parseLive(evt)},
	})
}

func (h *Handle) dispatchHistory(evt *events.HistorySync) {
	if evt.Data == nil {
		return
	}
	h.surfaceHistoryHints(evt)
	if h.hooks.OnMessages == nil {
		return
	}
	msgs := parseHistory(evt)
	if len(msgs) == 0 {
		return
	}
	h.hooks.OnMessages(transport.Batch{
		Category: transport.CategoryHistory,
		Messages: msgs,
	})
}

// surfaceHistoryHints extracts conversation-level LID ↔ phone-number
// pairs from a history sync. Backfill messages are never forwarded, so
// these hints are what backfill contributes to identity resolution.
func (h *Handle) surfaceHistoryHints(evt *events.HistorySync) {
	if h.hooks.OnChatMetadata == nil {
		return
	}
	for _, conv := range evt.Data.GetConversations() {
		lid, pn := conv.GetLidJID(), conv.GetPnJID()
		if lid == "" && strings.HasSuffix(conv.GetID(), "@lid") {
			lid = conv.GetID()
		}
		if lid == "" || pn == "" {
			continue
		}
		h.hooks.OnChatMetadata(lid, pn)
	}
}

func (h *Handle) self() transport.SelfIdentity {
	var self transport.SelfIdentity
	if id := h.client.Store.ID; id != nil {
		self.StableJID = id.ToNonAD().String()
	}
	if lid := h.client.Store.LID; !lid.IsEmpty() {
		self.LinkedJID = lid.ToNonAD().String()
	}
	return self
}

// credSnapshot is the opaque credential summary persisted by the
// credential store. The cryptographic material itself stays in the
// device database; this records which registration the database holds.
type credSnapshot struct {
	JID            string `json:"jid"`
	LID            string `json:"lid,omitempty"`
	RegistrationID uint32 `json:"registration_id"`
	Platform       string `json:"platform,omitempty"`
	PushName       string `json:"push_name,omitempty"`
}

func (h *Handle) surfaceCredentials() {
	if h.hooks.OnCredentials == nil {
		return
	}
	snap := credSnapshot{
		RegistrationID: h.client.Store.RegistrationID,
		Platform:       h.client.Store.Platform,
		PushName:       h.client.Store.PushName,
	}
	if id := h.client.Store.ID; id != nil {
		snap.JID = id.ToNonAD().String()
	}
	if lid := h.client.Store.LID; !lid.IsEmpty() {
		snap.LID = lid.ToNonAD().String()
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		h.logger.Warn("marshal credential snapshot", zap.Error(err))
		return
	}
	h.hooks.OnCredentials(raw)
}

func (h *Handle) streamQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			if h.hooks.OnPairingCode != nil {
				h.hooks.OnPairingCode(item.Code)
			}
		case "success":
			h.logger.Info("QR pairing complete")
			return
		case "timeout":
			h.logger.Warn("QR pairing timed out")
			return
		default:
			if item.Error != nil {
				h.logger.Warn("QR pairing failed", zap.Error(item.Error))
				return
			}
		}
	}
}
