package dedup

import (
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func TestOutboundRecent(t *testing.T) {
	clk := newFakeClock()
	l := NewWithClock(clk.now)

	l.RememberOutbound("msg-1")
	if !l.IsRecentOutbound("msg-1") {
		t.Error("IsRecentOutbound = false right after remember")
	}
	if l.IsRecentOutbound("msg-2") {
		t.Error("IsRecentOutbound = true for never-seen ID")
	}
}

func TestOutboundExpiry(t *testing.T) {
	clk := newFakeClock()
	l := NewWithClock(clk.now)

	l.RememberOutbound("msg-1")
	clk.advance(TTL - time.Second)
	if !l.IsRecentOutbound("msg-1") {
		t.Error("entry expired before TTL elapsed")
	}
	clk.advance(2 * time.Second)
	if l.IsRecentOutbound("msg-1") {
		t.Error("entry still recent after TTL elapsed")
	}
}

func TestExpiryIndependentOfInsertOrder(t *testing.T) {
	clk := newFakeClock()
	l := NewWithClock(clk.now)

	l.RememberOutbound("old")
	clk.advance(TTL / 2)
	l.RememberOutbound("new")
	clk.advance(TTL/2 + time.Second)

	if l.IsRecentOutbound("old") {
		t.Error("old entry survived its TTL")
	}
	if !l.IsRecentOutbound("new") {
		t.Error("new entry expired early")
	}
}

func TestInboundScopedPerChat(t *testing.T) {
	clk := newFakeClock()
	l := NewWithClock(clk.now)

	l.RememberInbound("chat-a@s.whatsapp.net", "msg-1")
	if !l.IsRecentInbound("chat-a@s.whatsapp.net", "msg-1") {
		t.Error("IsRecentInbound = false for remembered (chat, id)")
	}
	if l.IsRecentInbound("chat-b@s.whatsapp.net", "msg-1") {
		t.Error("inbound entry leaked across chats")
	}
}

func TestInboundExpiry(t *testing.T) {
	clk := newFakeClock()
	l := NewWithClock(clk.now)

	l.RememberInbound("chat", "msg-1")
	clk.advance(TTL + time.Millisecond)
	if l.IsRecentInbound("chat", "msg-1") {
		t.Error("inbound entry still recent after TTL")
	}
}

func TestRememberRefreshesExpiry(t *testing.T) {
	clk := newFakeClock()
	l := NewWithClock(clk.now)

	l.RememberInbound("chat", "msg-1")
	clk.advance(TTL - time.Second)
	l.RememberInbound("chat", "msg-1")
	clk.advance(TTL - time.Second)
	if !l.IsRecentInbound("chat", "msg-1") {
		t.Error("re-remember did not refresh the expiry")
	}
}

func TestEmptyIDIgnored(t *testing.T) {
	l := New()
	l.RememberOutbound("")
	if l.IsRecentOutbound("") {
		t.Error("empty ID must never be recent")
	}
}
