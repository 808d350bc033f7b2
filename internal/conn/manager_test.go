package conn

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wacodex/internal/creds"
	"github.com/matheus3301/wacodex/internal/status"
	"github.com/matheus3301/wacodex/internal/transport"
)

// fakeDialer hands out scripted handles and captures hooks so tests can
// inject transport events.
type fakeDialer struct {
	mu      sync.Mutex
	dials   int
	hooks   []transport.Hooks
	handles []*fakeHandle
	dialErr error
}

type fakeHandle struct {
	mu     sync.Mutex
	closed int
}

func (h *fakeHandle) SendText(_ context.Context, _, _ string) (string, error) {
	return "srv-id", nil
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed++
	return nil
}

func (h *fakeHandle) closeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (d *fakeDialer) Dial(_ context.Context, hooks transport.Hooks) (transport.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	h := &fakeHandle{}
	d.hooks = append(d.hooks, hooks)
	d.handles = append(d.handles, h)
	return h, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) hooksAt(i int) transport.Hooks {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hooks[i]
}

func (d *fakeDialer) handleAt(i int) *fakeHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handles[i]
}

type nopConsumer struct {
	mu      sync.Mutex
	batches []transport.Batch
}

func (c *nopConsumer) HandleOpened(transport.SelfIdentity) {}

func (c *nopConsumer) HandleMessages(batch transport.Batch) {
	c.mu.Lock()
	c.batches = append(c.batches, batch)
	c.mu.Unlock()
}

func (c *nopConsumer) HandleChatMetadata(string, string) {}

func (c *nopConsumer) batchCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

func shortDelays(t *testing.T) {
	t.Helper()
	origRestart, origLoggedOut, origGeneric, origFailure :=
		delayRestartRequired, delayLoggedOut, delayGeneric, delayStartFailure
	delayRestartRequired = 10 * time.Millisecond
	delayLoggedOut = 10 * time.Millisecond
	delayGeneric = 10 * time.Millisecond
	delayStartFailure = 10 * time.Millisecond
	t.Cleanup(func() {
		delayRestartRequired, delayLoggedOut, delayGeneric, delayStartFailure =
			origRestart, origLoggedOut, origGeneric, origFailure
	})
}

func testManager(t *testing.T, dialer *fakeDialer) (*Manager, *nopConsumer, string) {
	t.Helper()
	dir := t.TempDir()
	logger, _ := zap.NewDevelopment()
	credStore, err := creds.NewStore(dir, nil, logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(credStore.Close)
	consumer := &nopConsumer{}
	m := NewManager(dialer, credStore, status.NewMachine(nil), consumer, nil, logger)
	return m, consumer, dir
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before timeout")
}

func TestStartConnects(t *testing.T) {
	dialer := &fakeDialer{}
	m, _, _ := testManager(t, dialer)
	defer m.Stop()

	m.Start("startup")
	waitFor(t, time.Second, func() bool { return dialer.dialCount() == 1 })

	dialer.hooksAt(0).OnOpened(transport.SelfIdentity{StableJID: "1555@s.whatsapp.net"})
	waitFor(t, time.Second, m.Connected)

	if m.Handle() == nil {
		t.Error("Handle() = nil after open")
	}
}

func TestRestartClosesPreviousHandle(t *testing.T) {
	dialer := &fakeDialer{}
	m, _, _ := testManager(t, dialer)
	defer m.Stop()

	m.Start("startup")
	waitFor(t, time.Second, func() bool { return dialer.dialCount() == 1 })
	dialer.hooksAt(0).OnOpened(transport.SelfIdentity{})

	m.Start("manual restart")
	waitFor(t, time.Second, func() bool { return dialer.dialCount() == 2 })

	if dialer.handleAt(0).closeCount() == 0 {
		t.Error("previous handle was not closed on restart")
	}
}

func TestStaleHandlerFenced(t *testing.T) {
	dialer := &fakeDialer{}
	m, consumer, _ := testManager(t, dialer)
	defer m.Stop()

	m.Start("startup")
	waitFor(t, time.Second, func() bool { return dialer.dialCount() == 1 })
	oldHooks := dialer.hooksAt(0)

	m.Start("restart")
	waitFor(t, time.Second, func() bool { return dialer.dialCount() == 2 })

	// Events from the superseded generation must be no-ops.
	oldHooks.OnMessages(transport.Batch{Category: transport.CategoryLive, Messages: []transport.Message{{ID: "m1"}}})
	oldHooks.OnOpened(transport.SelfIdentity{})

	time.Sleep(50 * time.Millisecond)
	if consumer.batchCount() != 0 {
		t.Error("stale generation delivered messages")
	}
	if m.Connected() {
		t.Error("stale OnOpened flipped connected")
	}
}

func TestGenericCloseSchedulesReconnect(t *testing.T) {
	shortDelays(t)
	dialer := &fakeDialer{}
	m, _, _ := testManager(t, dialer)
	defer m.Stop()

	m.Start("startup")
	waitFor(t, time.Second, func() bool { return dialer.dialCount() == 1 })
	dialer.hooksAt(0).OnOpened(transport.SelfIdentity{})

	dialer.hooksAt(0).OnClosed(transport.CloseGeneric)
	waitFor(t, time.Second, func() bool { return dialer.dialCount() == 2 })
}

func TestLoggedOutWipesCredentials(t *testing.T) {
	shortDelays(t)
	dialer := &fakeDialer{}
	m, _, dir := testManager(t, dialer)
	defer m.Stop()

	// Seed credential and session artifacts plus the exempt backend file.
	for name, content := range map[string]string{
		creds.PrimaryFile:     `{"k":1}`,
		creds.BackupFile:      `{"k":0}`,
		"session.db":          "x",
		creds.BackendAuthFile: `{"token":"keep"}`,
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
	}

	m.Start("startup")
	waitFor(t, time.Second, func() bool { return dialer.dialCount() == 1 })
	dialer.hooksAt(0).OnOpened(transport.SelfIdentity{})

	dialer.hooksAt(0).OnClosed(transport.CloseLoggedOut)

	// Reconnect scheduled after the wipe.
	waitFor(t, time.Second, func() bool { return dialer.dialCount() == 2 })

	for _, gone := range []string{creds.PrimaryFile, creds.BackupFile, "session.db"} {
		if _, err := os.Stat(filepath.Join(dir, gone)); !os.IsNotExist(err) {
			t.Errorf("%s survived the logged-out wipe", gone)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, creds.BackendAuthFile)); err != nil {
		t.Errorf("backend auth artifact missing after wipe: %v", err)
	}
}

func TestReconnectScheduleIdempotent(t *testing.T) {
	dialer := &fakeDialer{}
	m, _, _ := testManager(t, dialer)
	defer m.Stop()

	origGeneric := delayGeneric
	delayGeneric = 80 * time.Millisecond
	t.Cleanup(func() { delayGeneric = origGeneric })

	m.Start("startup")
	waitFor(t, time.Second, func() bool { return dialer.dialCount() == 1 })
	dialer.hooksAt(0).OnOpened(transport.SelfIdentity{})

	// Double close: the second schedule request is dropped silently.
	dialer.hooksAt(0).OnClosed(transport.CloseGeneric)
	dialer.hooksAt(0).OnClosed(transport.CloseGeneric)

	waitFor(t, time.Second, func() bool { return dialer.dialCount() >= 2 })
	time.Sleep(150 * time.Millisecond)
	if got := dialer.dialCount(); got != 2 {
		t.Errorf("dial count = %d, want 2 (one reconnect per close burst)", got)
	}
}

func TestDialFailureRetriesOnce(t *testing.T) {
	shortDelays(t)
	dialer := &fakeDialer{dialErr: context.DeadlineExceeded}
	m, _, _ := testManager(t, dialer)
	defer m.Stop()

	m.Start("startup")
	// Failure schedules exactly one reconnect, which fails again, and so on.
	waitFor(t, time.Second, func() bool { return dialer.dialCount() >= 2 })
}

func TestCredentialsPersistedViaHook(t *testing.T) {
	dialer := &fakeDialer{}
	m, _, dir := testManager(t, dialer)
	defer m.Stop()

	m.Start("startup")
	waitFor(t, time.Second, func() bool { return dialer.dialCount() == 1 })

	dialer.hooksAt(0).OnCredentials(json.RawMessage(`{"noise":"zzz"}`))

	waitFor(t, time.Second, func() bool {
		data, err := os.ReadFile(filepath.Join(dir, creds.PrimaryFile))
		return err == nil && string(data) == `{"noise":"zzz"}`
	})
}
