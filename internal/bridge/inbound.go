// Package bridge connects the transport to the agent backend: the
// inbound side filters, deduplicates, and forwards messages; the
// outbound side normalizes targets and sends.
package bridge

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wacodex/internal/backend"
	"github.com/matheus3301/wacodex/internal/bus"
	"github.com/matheus3301/wacodex/internal/config"
	"github.com/matheus3301/wacodex/internal/dedup"
	"github.com/matheus3301/wacodex/internal/identity"
	"github.com/matheus3301/wacodex/internal/transport"
)

const forwardTimeout = 10 * time.Second

// Forwarder delivers a filtered message to the backend.
type Forwarder interface {
	Notify(ctx context.Context, msg backend.InboundMessage) error
}

// Inbound consumes transport events, applies identity resolution, dedup
// and access filtering, and forwards surviving messages. It implements
// conn.Consumer; the lifecycle manager guarantees events arrive only
// from the current connection generation.
type Inbound struct {
	resolver  *identity.Resolver
	ledger    *dedup.Ledger
	policy    *Policy
	forwarder Forwarder
	bus       *bus.Bus
	logger    *zap.Logger
}

// NewInbound creates the inbound bridge.
func NewInbound(
	resolver *identity.Resolver,
	ledger *dedup.Ledger,
	policy *Policy,
	forwarder Forwarder,
	b *bus.Bus,
	logger *zap.Logger,
) *Inbound {
	return &Inbound{
		resolver:  resolver,
		ledger:    ledger,
		policy:    policy,
		forwarder: forwarder,
		bus:       b,
		logger:    logger,
	}
}

// HandleOpened records the account's own identities once the connection
// is live.
func (in *Inbound) HandleOpened(self transport.SelfIdentity) {
	in.resolver.SetSelf(self.StableJID, self.LinkedJID)
}

// HandleChatMetadata warms the resolver with a linked ↔ stable hint.
func (in *Inbound) HandleChatMetadata(linkedJID, stableJID string) {
	in.resolver.RememberMapping(linkedJID, stableJID)
}

// HandleMessages processes one batch. Per-message failures are logged
// and never propagate; a bad message must not take the handler down.
func (in *Inbound) HandleMessages(batch transport.Batch) {
	switch batch.Category {
	case transport.CategoryLive, transport.CategoryHistory:
	default:
		return
	}
	for _, msg := range batch.Messages {
		in.process(batch.Category, msg)
	}
}

func (in *Inbound) process(category transport.Category, msg transport.Message) {
	defer func() {
		if r := recover(); r != nil {
			in.logger.Error("inbound handler panicked", zap.Any("panic", r))
		}
	}()

	if msg.ChatJID == "" || msg.ID == "" {
		return
	}

	chat := identity.Normalize(msg.ChatJID)
	if chat == "" || !identity.IsUserChat(chat) {
		in.drop(msg, "chat_filtered")
		return
	}

	// Duplicate check first, then mark seen either way so a later
	// duplicate of this very message is also suppressed.
	duplicate := in.ledger.IsRecentInbound(chat, msg.ID)
	in.ledger.RememberInbound(chat, msg.ID)
	if duplicate {
		in.drop(msg, "duplicate")
		return
	}

	if in.ledger.IsRecentOutbound(msg.ID) {
		in.drop(msg, "echo")
		return
	}

	resolved := in.resolver.ResolveSender(msg.SenderJID)
	if in.policy.Mode() == config.ModeSelfChat {
		resolved = in.resolver.ResolveOwn(resolved, msg.FromMe)
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		in.drop(msg, "no_text")
		return
	}

	// Backfill is never forwarded. Its identity hints arrive separately
	// as chat metadata from the transport.
	if category == transport.CategoryHistory {
		in.drop(msg, "backfill")
		return
	}

	if !in.policy.Allow(resolved, msg.FromMe, in.resolver.Self()) {
		in.drop(msg, "access_denied")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), forwardTimeout)
	defer cancel()

	err := in.forwarder.Notify(ctx, backend.InboundMessage{
		From:         chat,
		FromIdentity: resolved,
		Text:         text,
		MessageID:    msg.ID,
		FromMe:       msg.FromMe,
		IsGroup:      false,
		SelfJID:      in.resolver.Self(),
	})
	if err != nil {
		// At-most-once: log, no retry.
		in.logger.Error("failed to forward inbound message",
			zap.String("chat", chat),
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		return
	}

	in.publish(bus.KindMessageForwarded, map[string]string{
		"chat": chat, "message_id": msg.ID,
	})
}

func (in *Inbound) drop(msg transport.Message, reason string) {
	in.publish(bus.KindMessageDropped, map[string]string{
		"chat": msg.ChatJID, "message_id": msg.ID, "reason": reason,
	})
}

func (in *Inbound) publish(kind string, payload any) {
	if in.bus != nil {
		in.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
	}
}
