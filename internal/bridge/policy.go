package bridge

import (
	"github.com/matheus3301/wacodex/internal/config"
	"github.com/matheus3301/wacodex/internal/identity"
)

// Policy decides which resolved senders may reach the backend.
type Policy struct {
	mode     string
	approved map[string]struct{}
}

// NewPolicy builds a policy for the given access mode and approved
// number list. Numbers are folded to their digits-only identity.
func NewPolicy(mode string, approvedNumbers []string) *Policy {
	approved := make(map[string]struct{}, len(approvedNumbers))
	for _, raw := range approvedNumbers {
		if id := identity.Identity(raw); id != "" {
			approved[id] = struct{}{}
		}
	}
	return &Policy{mode: config.NormalizeAccessMode(mode), approved: approved}
}

// Mode returns the normalized access mode.
func (p *Policy) Mode() string {
	return p.mode
}

// Allow reports whether a message from the resolved sender may be
// forwarded. selfJID is the bridge's own stable JID ("" before pairing).
//
// self_chat: only the account's own messages pass, and only once the
// self JID is known. approved_senders: own messages never pass, and the
// sender's identity must be on the allowlist; an empty allowlist admits
// nobody.
func (p *Policy) Allow(sender string, fromMe bool, selfJID string) bool {
	if p.mode == config.ModeSelfChat {
		if selfJID == "" {
			return false
		}
		return identity.Identity(sender) == identity.Identity(selfJID)
	}

	if fromMe {
		return false
	}
	if len(p.approved) == 0 {
		return false
	}
	_, ok := p.approved[identity.Identity(sender)]
	return ok
}
