package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wacodex/internal/bus"
	"github.com/matheus3301/wacodex/internal/dedup"
	"github.com/matheus3301/wacodex/internal/identity"
	"github.com/matheus3301/wacodex/internal/transport"
)

// Send errors the control surface maps to distinct status codes.
var (
	ErrInvalidTarget = errors.New("invalid target identifier")
	ErrEmptyText     = errors.New("text must not be empty")
	ErrUnavailable   = errors.New("no live transport connection")
)

// HandleSource yields the current live connection, nil if disconnected.
type HandleSource interface {
	Handle() transport.Handle
}

// Outbound accepts send requests from the backend, forwards them to the
// transport, and records dedup markers so the echo is not re-forwarded
// as inbound.
type Outbound struct {
	source HandleSource
	ledger *dedup.Ledger
	bus    *bus.Bus
	logger *zap.Logger
}

// NewOutbound creates the outbound bridge.
func NewOutbound(source HandleSource, ledger *dedup.Ledger, b *bus.Bus, logger *zap.Logger) *Outbound {
	return &Outbound{source: source, ledger: ledger, bus: b, logger: logger}
}

// Send normalizes the target, requires non-empty text and a live
// connection, sends, and remembers the resulting message ID as a recent
// outbound.
func (o *Outbound) Send(ctx context.Context, to, text string) error {
	target, err := NormalizeTarget(to)
	if err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}

	handle := o.source.Handle()
	if handle == nil {
		return ErrUnavailable
	}

	msgID, err := handle.SendText(ctx, target, text)
	if err != nil {
		o.logger.Error("send failed", zap.String("to", target), zap.Error(err))
		o.publish(bus.KindMessageSendFail, map[string]string{"to": target, "error": err.Error()})
		return fmt.Errorf("send text: %w", err)
	}

	o.ledger.RememberOutbound(msgID)
	o.logger.Info("message sent", zap.String("to", target), zap.String("message_id", msgID))
	o.publish(bus.KindMessageSent, map[string]string{"to": target, "message_id": msgID})
	return nil
}

// NormalizeTarget accepts bare numbers ("15551234567"), full JIDs, and
// scheme-prefixed phone strings ("tel:+1-555-123-4567"), and returns a
// canonical user JID.
func NormalizeTarget(to string) (string, error) {
	clean := strings.TrimSpace(strings.ToLower(to))
	for _, scheme := range []string{"tel:", "wa:", "whatsapp:"} {
		if strings.HasPrefix(clean, scheme) {
			clean = strings.TrimPrefix(clean, scheme)
			break
		}
	}
	if clean == "" {
		return "", ErrInvalidTarget
	}

	if strings.ContainsRune(clean, '@') {
		jid := identity.Normalize(clean)
		if !identity.IsUserChat(jid) {
			return "", ErrInvalidTarget
		}
		return jid, nil
	}

	var digits strings.Builder
	for _, r := range clean {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == '+' || r == '-' || r == ' ' || r == '(' || r == ')' || r == '.':
			// separators in human-formatted phone numbers
		default:
			return "", ErrInvalidTarget
		}
	}
	if digits.Len() == 0 {
		return "", ErrInvalidTarget
	}
	return digits.String() + "@" + identity.DefaultDomain, nil
}

func (o *Outbound) publish(kind string, payload any) {
	if o.bus != nil {
		o.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
	}
}
