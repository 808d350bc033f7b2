// Package dedup keeps a time-bounded memory of recently seen message
// IDs. Two independent ledgers exist: outbound IDs (global, for echo
// suppression) and inbound IDs (scoped per chat, for duplicate
// delivery). Entries expire after a fixed TTL; expired entries are
// purged lazily before every lookup and insert, so no background sweep
// is needed.
package dedup

import (
	"sync"
	"time"
)

// TTL is how long a remembered ID counts as recent. Pruned-too-early
// false negatives are an accepted tradeoff of bounded memory.
const TTL = 2 * time.Minute

// Ledger tracks recent outbound and inbound message IDs.
type Ledger struct {
	mu       sync.Mutex
	now      func() time.Time
	outbound map[string]time.Time
	inbound  map[string]time.Time
}

// New creates a ledger using the real clock.
func New() *Ledger {
	return NewWithClock(time.Now)
}

// NewWithClock creates a ledger with an injected clock for
// deterministic tests.
func NewWithClock(now func() time.Time) *Ledger {
	return &Ledger{
		now:      now,
		outbound: make(map[string]time.Time),
		inbound:  make(map[string]time.Time),
	}
}

func prune(entries map[string]time.Time, now time.Time) {
	for k, expiry := range entries {
		if !expiry.After(now) {
			delete(entries, k)
		}
	}
}

// RememberOutbound records a sent message ID.
func (l *Ledger) RememberOutbound(id string) {
	if id == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	prune(l.outbound, now)
	l.outbound[id] = now.Add(TTL)
}

// IsRecentOutbound reports whether id was sent within the TTL window.
func (l *Ledger) IsRecentOutbound(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	prune(l.outbound, now)
	_, ok := l.outbound[id]
	return ok
}

func inboundKey(chatID, id string) string {
	return chatID + "\x00" + id
}

// RememberInbound records a message ID as seen for a chat. Idempotent:
// re-remembering refreshes the expiry.
func (l *Ledger) RememberInbound(chatID, id string) {
	if id == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	prune(l.inbound, now)
	l.inbound[inboundKey(chatID, id)] = now.Add(TTL)
}

// IsRecentInbound reports whether id was seen for chatID within the TTL
// window.
func (l *Ledger) IsRecentInbound(chatID, id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	prune(l.inbound, now)
	_, ok := l.inbound[inboundKey(chatID, id)]
	return ok
}
