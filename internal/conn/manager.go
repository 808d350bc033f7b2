// Package conn owns the single live transport connection: it serializes
// connection attempts, fences callbacks from superseded connections
// behind a generation counter, and drives the reconnect policy for
// every class of disconnect.
package conn

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/matheus3301/wacodex/internal/bus"
	"github.com/matheus3301/wacodex/internal/creds"
	"github.com/matheus3301/wacodex/internal/status"
	"github.com/matheus3301/wacodex/internal/taskq"
	"github.com/matheus3301/wacodex/internal/transport"
)

// Reconnect delays per close class. Variables so tests can shrink them.
var (
	delayRestartRequired = 500 * time.Millisecond
	delayLoggedOut       = 1 * time.Second
	delayGeneric         = 1500 * time.Millisecond
	delayStartFailure    = 500 * time.Millisecond

	dialTimeout = 30 * time.Second
)

// Consumer receives fenced events from whichever connection is current.
// Callbacks belonging to a superseded generation are never delivered.
type Consumer interface {
	HandleOpened(self transport.SelfIdentity)
	HandleMessages(batch transport.Batch)
	HandleChatMetadata(linkedJID, stableJID string)
}

// Manager drives the transport connection lifecycle.
type Manager struct {
	dialer   transport.Dialer
	creds    *creds.Store
	machine  *status.Machine
	consumer Consumer
	bus      *bus.Bus
	logger   *zap.Logger
	queue    *taskq.Queue

	mu        sync.Mutex
	gen       uint64
	handle    transport.Handle
	connected bool
	reconnect *time.Timer
	stopped   bool
}

// NewManager creates a manager. Start must be called to connect.
func NewManager(
	dialer transport.Dialer,
	credStore *creds.Store,
	machine *status.Machine,
	consumer Consumer,
	b *bus.Bus,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		dialer:   dialer,
		creds:    credStore,
		machine:  machine,
		consumer: consumer,
		bus:      b,
		logger:   logger,
		queue:    taskq.New(logger),
	}
}

// Start establishes (or re-establishes) the connection. All start
// requests, whatever their trigger, run one at a time in request order.
// Failures are logged and retried; Start never reports them.
func (m *Manager) Start(reason string) {
	m.mu.Lock()
	stopped := m.stopped
	m.mu.Unlock()
	if stopped {
		return
	}
	m.queue.Do("conn.start", func() { m.start(reason) })
}

// Handle returns the live connection, or nil while disconnected.
func (m *Manager) Handle() transport.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil
	}
	return m.handle
}

// Connected reports whether the connection is live.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Stop closes the connection for good and stops reconnecting.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.gen++ // fence everything in flight
	handle := m.handle
	m.handle = nil
	m.connected = false
	m.cancelTimerLocked()
	m.mu.Unlock()

	if handle != nil {
		_ = handle.Close()
	}
	_ = m.machine.Transition(status.Terminal)
	m.queue.Close()
}

func (m *Manager) start(reason string) {
	m.mu.Lock()
	m.gen++
	gen := m.gen
	old := m.handle
	m.handle = nil
	m.connected = false
	m.cancelTimerLocked()
	m.mu.Unlock()

	m.logger.Info("starting connection",
		zap.String("reason", reason),
		zap.Uint64("generation", gen),
	)

	// Abandon the stale handle; close failures are swallowed, not awaited.
	if old != nil {
		_ = old.Close()
	}

	_ = m.machine.Transition(status.Connecting)

	m.creds.RestoreIfNeeded()

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	handle, err := m.dialer.Dial(ctx, m.hooks(gen))
	if err != nil {
		m.logger.Error("connection attempt failed",
			zap.Uint64("generation", gen), zap.Error(err))
		_ = m.machine.Transition(status.Disconnected)
		m.scheduleReconnect(gen, delayStartFailure)
		return
	}

	m.mu.Lock()
	if gen != m.gen {
		// Superseded while dialing; abandon the fresh handle too.
		m.mu.Unlock()
		_ = handle.Close()
		return
	}
	m.handle = handle
	m.mu.Unlock()
}

// current reports whether gen is still the live generation.
func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen
}

// hooks builds the event hooks for one connection generation. Every hook
// checks the fence first: events from a superseded connection are no-ops.
func (m *Manager) hooks(gen uint64) transport.Hooks {
	return transport.Hooks{
		OnCredentials: func(raw json.RawMessage) {
			if !m.current(gen) {
				return
			}
			m.creds.Persist(raw)
		},
		OnPairingCode: func(code string) {
			if !m.current(gen) {
				return
			}
			m.surfacePairingCode(code)
		},
		OnOpened: func(self transport.SelfIdentity) {
			if !m.current(gen) {
				return
			}
			m.mu.Lock()
			m.connected = true
			m.mu.Unlock()
			_ = m.machine.Transition(status.Connected)
			m.logger.Info("connection open",
				zap.Uint64("generation", gen),
				zap.String("self", self.StableJID),
			)
			m.consumer.HandleOpened(self)
		},
		OnClosed: func(code transport.CloseCode) {
			if !m.current(gen) {
				return
			}
			m.onClosed(gen, code)
		},
		OnChatMetadata: func(linkedJID, stableJID string) {
			if !m.current(gen) {
				return
			}
			m.consumer.HandleChatMetadata(linkedJID, stableJID)
		},
		OnMessages: func(batch transport.Batch) {
			if !m.current(gen) {
				return
			}
			m.consumer.HandleMessages(batch)
		},
	}
}

func (m *Manager) onClosed(gen uint64, code transport.CloseCode) {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	_ = m.machine.Transition(status.Closed)

	switch code {
	case transport.CloseLoggedOut:
		m.logger.Warn("session logged out, wiping credentials",
			zap.Uint64("generation", gen))
		m.creds.Wipe()
		if m.bus != nil {
			m.bus.Publish(bus.Event{Kind: bus.KindConnLoggedOut, Timestamp: time.Now()})
		}
		m.scheduleReconnect(gen, delayLoggedOut)
	case transport.CloseRestartRequired:
		m.scheduleReconnect(gen, delayRestartRequired)
	default:
		m.logger.Warn("connection closed",
			zap.Uint64("generation", gen),
			zap.String("code", code.String()),
		)
		m.scheduleReconnect(gen, delayGeneric)
	}
}

// scheduleReconnect arms at most one timer per generation. A second
// request while one is pending is dropped silently, and a timer armed
// for a superseded generation never fires a start.
func (m *Manager) scheduleReconnect(gen uint64, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.reconnect != nil {
		return
	}
	m.reconnect = time.AfterFunc(delay, func() {
		m.mu.Lock()
		m.reconnect = nil
		stale := gen != m.gen
		m.mu.Unlock()
		if stale {
			return
		}
		m.Start("reconnect")
	})
}

func (m *Manager) cancelTimerLocked() {
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
}

// surfacePairingCode renders the pairing challenge as a terminal QR
// block. Fire-and-forget side channel; not part of the retry contract.
func (m *Manager) surfacePairingCode(code string) {
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindConnPairingCode,
			Timestamp: time.Now(),
			Payload:   code,
		})
	}
	qr, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		m.logger.Error("failed to render pairing code", zap.Error(err))
		return
	}
	fmt.Fprintln(os.Stderr, "Scan this QR code with WhatsApp to pair:")
	fmt.Fprintln(os.Stderr, qr.ToSmallString(false))
	m.logger.Info("pairing code surfaced")
}
