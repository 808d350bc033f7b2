package bridge

import (
	"testing"

	"github.com/matheus3301/wacodex/internal/config"
)

const selfJID = "15550001111@s.whatsapp.net"

func TestSelfChatAllowsOnlySelf(t *testing.T) {
	p := NewPolicy(config.ModeSelfChat, nil)

	tests := []struct {
		name   string
		sender string
		fromMe bool
		self   string
		want   bool
	}{
		{"own message", selfJID, true, selfJID, true},
		{"own identity different format", "+1 (555) 000-1111", true, selfJID, true},
		{"other sender", "15559998888@s.whatsapp.net", false, selfJID, false},
		{"other sender from_me", "15559998888@s.whatsapp.net", true, selfJID, false},
		{"self unknown", selfJID, true, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Allow(tt.sender, tt.fromMe, tt.self); got != tt.want {
				t.Errorf("Allow(%q, %v) = %v, want %v", tt.sender, tt.fromMe, got, tt.want)
			}
		})
	}
}

func TestApprovedSenders(t *testing.T) {
	p := NewPolicy(config.ModeApprovedSenders, []string{"+1 555-999-8888", "15551234567"})

	tests := []struct {
		name   string
		sender string
		fromMe bool
		want   bool
	}{
		{"approved", "15559998888@s.whatsapp.net", false, true},
		{"approved second", "15551234567@s.whatsapp.net", false, true},
		{"not approved", "15550000000@s.whatsapp.net", false, false},
		{"own message dropped", selfJID, true, false},
		{"approved but from_me", "15559998888@s.whatsapp.net", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Allow(tt.sender, tt.fromMe, selfJID); got != tt.want {
				t.Errorf("Allow(%q, %v) = %v, want %v", tt.sender, tt.fromMe, got, tt.want)
			}
		})
	}
}

func TestApprovedSendersEmptyAllowlist(t *testing.T) {
	p := NewPolicy(config.ModeApprovedSenders, nil)
	if p.Allow("15559998888@s.whatsapp.net", false, selfJID) {
		t.Error("empty allowlist must admit nobody")
	}
}

func TestUnknownModeFallsBackToSelfChat(t *testing.T) {
	p := NewPolicy("bogus", nil)
	if p.Mode() != config.ModeSelfChat {
		t.Errorf("Mode() = %q, want self_chat fallback", p.Mode())
	}
}
