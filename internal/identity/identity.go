// Package identity reconciles the two families of WhatsApp sender
// addresses: stable phone-number JIDs (user@s.whatsapp.net) and
// transient linked-device JIDs (user@lid). Every linked-device identity
// observed mapped to a stable one is remembered for the lifetime of the
// process.
package identity

import (
	"strings"
	"sync"
)

// JID domains.
const (
	DefaultDomain    = "s.whatsapp.net"
	LinkedDomain     = "lid"
	GroupDomain      = "g.us"
	BroadcastDomain  = "broadcast"
	NewsletterDomain = "newsletter"
)

// Normalize folds a raw JID to canonical form: lowercase, device suffix
// (":NN" in the local part) stripped, local@domain shape preserved.
// Inputs without an "@" are already bare and returned trimmed/lowercased.
func Normalize(raw string) string {
	clean := strings.ToLower(strings.TrimSpace(raw))
	at := strings.IndexByte(clean, '@')
	if at < 0 {
		return clean
	}
	local, domain := clean[:at], clean[at+1:]
	if colon := strings.IndexByte(local, ':'); colon >= 0 {
		local = local[:colon]
	}
	return local + "@" + domain
}

// Identity extracts the comparable identity of a JID: the digits of the
// local part, falling back to the whole local part when it contains no
// digits.
func Identity(raw string) string {
	local := Normalize(raw)
	if at := strings.IndexByte(local, '@'); at >= 0 {
		local = local[:at]
	}
	var digits strings.Builder
	for _, r := range local {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return local
	}
	return digits.String()
}

func domainOf(jid string) string {
	if at := strings.IndexByte(jid, '@'); at >= 0 {
		return jid[at+1:]
	}
	return ""
}

// IsLinkedDevice reports whether the (normalized) JID is in the
// linked-device domain.
func IsLinkedDevice(jid string) bool {
	return domainOf(Normalize(jid)) == LinkedDomain
}

// IsUserChat reports whether the JID addresses a direct user chat.
// Group, broadcast, status and newsletter JIDs are not user chats.
func IsUserChat(jid string) bool {
	switch domainOf(Normalize(jid)) {
	case DefaultDomain, LinkedDomain:
		return true
	default:
		return false
	}
}

// Resolver remembers linked-device → stable mappings and the bridge's
// own identities. Safe for concurrent use.
type Resolver struct {
	mu         sync.RWMutex
	linkedToPN map[string]string
	selfStable string
	selfLinked string
}

// NewResolver creates an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{linkedToPN: make(map[string]string)}
}

// SetSelf records the bridge's own stable and (optionally) linked-device
// JIDs, and remembers the pair as a mapping.
func (r *Resolver) SetSelf(stable, linked string) {
	stable = Normalize(stable)
	linked = Normalize(linked)
	r.mu.Lock()
	if stable != "" {
		r.selfStable = stable
	}
	if linked != "" {
		r.selfLinked = linked
	}
	r.mu.Unlock()
	if stable != "" && linked != "" {
		r.RememberMapping(linked, stable)
	}
}

// Self returns the bridge's own stable JID, or "" before pairing.
func (r *Resolver) Self() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.selfStable
}

// RememberMapping records linked → stable. No-op unless linked is a
// linked-device JID and both sides normalize to non-empty values.
// Overwrites are allowed; entries are never removed.
func (r *Resolver) RememberMapping(linked, stable string) {
	linked = Normalize(linked)
	stable = Normalize(stable)
	if linked == "" || stable == "" || !IsLinkedDevice(linked) {
		return
	}
	r.mu.Lock()
	r.linkedToPN[linked] = stable
	r.mu.Unlock()
}

// ResolveSender normalizes raw and maps linked-device JIDs to their
// remembered stable identity. Without a remembered mapping the
// normalized linked JID itself is returned; non-linked JIDs pass through
// unchanged. Never fails for non-empty input.
func (r *Resolver) ResolveSender(raw string) string {
	jid := Normalize(raw)
	if !IsLinkedDevice(jid) {
		return jid
	}
	r.mu.RLock()
	stable, ok := r.linkedToPN[jid]
	r.mu.RUnlock()
	if ok {
		return stable
	}
	return jid
}

// ResolveOwn remaps the bridge's own linked-device identity on outbound-
// flagged messages to its stable identity. WhatsApp reports the bot's
// own messages under the linked form on some paths; when fromMe is set
// and the resolved sender is the bot's linked JID (or no self-linked JID
// is known yet), the stable self JID is the truthful sender.
func (r *Resolver) ResolveOwn(resolved string, fromMe bool) string {
	if !fromMe || !IsLinkedDevice(resolved) {
		return resolved
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.selfStable == "" {
		return resolved
	}
	if r.selfLinked == "" || resolved == r.selfLinked {
		return r.selfStable
	}
	return resolved
}
