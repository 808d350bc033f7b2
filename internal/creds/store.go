// Package creds persists the transport session credentials under the
// auth directory, with a last-known-good backup file so a torn write
// can never cost the pairing. All writes go through a single-worker
// queue; concurrent persistence calls are never interleaved.
package creds

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/matheus3301/wacodex/internal/bus"
	"github.com/matheus3301/wacodex/internal/taskq"
	"go.uber.org/zap"
)

const (
	// PrimaryFile is the live credential snapshot.
	PrimaryFile = "creds.json"
	// BackupFile only ever holds content that has been verified to parse.
	BackupFile = "creds.json.bak"
	// BackendAuthFile is the backend's own auth artifact. It lives in the
	// same directory but is exempt from wipe-on-logout.
	BackendAuthFile = "codex-auth.json"
)

// Store owns the credential files under one auth directory.
type Store struct {
	dir    string
	queue  *taskq.Queue
	bus    *bus.Bus
	logger *zap.Logger
}

// NewStore creates a store rooted at dir. The directory is created with
// owner-only permissions if missing.
func NewStore(dir string, b *bus.Bus, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	return &Store{
		dir:    dir,
		queue:  taskq.New(logger),
		bus:    b,
		logger: logger,
	}, nil
}

// Close drains pending persistence work.
func (s *Store) Close() {
	s.queue.Close()
}

// Dir returns the auth directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) primaryPath() string { return filepath.Join(s.dir, PrimaryFile) }
func (s *Store) backupPath() string  { return filepath.Join(s.dir, BackupFile) }

// valid reports whether data is a non-empty, well-formed JSON document.
func valid(data []byte) bool {
	return len(data) > 0 && json.Valid(data)
}

func readValid(path string) ([]byte, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	if !valid(data) {
		return nil, false
	}
	return data, true
}

// RestoreIfNeeded checks primary credential integrity and restores from
// backup when the primary is missing, empty, or corrupt. Idempotent;
// called before every connection attempt. When neither file is valid it
// is a no-op and the transport starts a fresh unpaired session.
func (s *Store) RestoreIfNeeded() {
	s.do("creds.restore", func() {
		if _, ok := readValid(s.primaryPath()); ok {
			return
		}
		backup, ok := readValid(s.backupPath())
		if !ok {
			return
		}
		if err := os.WriteFile(s.primaryPath(), backup, 0600); err != nil {
			s.logger.Error("failed to restore credentials from backup", zap.Error(err))
			return
		}
		_ = os.Chmod(s.primaryPath(), 0600)
		s.logger.Warn("restored credentials from backup")
		s.publish(bus.KindCredsRestored)
	})
}

// Persist writes a new credential snapshot. If the current primary still
// parses it is copied to the backup first, so the backup is never
// overwritten with unverified content. Write failures are logged and
// swallowed; credential persistence must never block message flow.
func (s *Store) Persist(raw json.RawMessage) {
	snapshot := make([]byte, len(raw))
	copy(snapshot, raw)
	s.queue.Do("creds.persist", func() {
		if !valid(snapshot) {
			s.logger.Warn("ignoring invalid credential snapshot")
			return
		}
		if current, ok := readValid(s.primaryPath()); ok {
			if err := os.WriteFile(s.backupPath(), current, 0600); err != nil {
				s.logger.Error("failed to write credential backup", zap.Error(err))
			}
		}
		if err := os.WriteFile(s.primaryPath(), snapshot, 0600); err != nil {
			s.logger.Error("failed to persist credentials", zap.Error(err))
			return
		}
		_ = os.Chmod(s.primaryPath(), 0600)
		s.publish(bus.KindCredsPersisted)
	})
}

// Wipe removes credential files and transport session artifacts from the
// auth directory. The backend auth artifact is explicitly preserved.
// Used on terminal auth loss; the next connection starts unpaired.
func (s *Store) Wipe() {
	s.do("creds.wipe", func() {
		entries, err := os.ReadDir(s.dir)
		if err != nil {
			s.logger.Error("failed to read auth dir for wipe", zap.Error(err))
			return
		}
		for _, entry := range entries {
			name := entry.Name()
			if !wipeTarget(name) {
				continue
			}
			if err := os.RemoveAll(filepath.Join(s.dir, name)); err != nil {
				s.logger.Warn("failed to remove auth artifact",
					zap.String("file", name), zap.Error(err))
			}
		}
		s.logger.Warn("credential artifacts wiped, re-pairing required")
		s.publish(bus.KindCredsWiped)
	})
}

func wipeTarget(name string) bool {
	if name == BackendAuthFile {
		return false
	}
	switch {
	case name == PrimaryFile, name == BackupFile:
		return true
	case strings.HasPrefix(name, "session"):
		return true
	case strings.HasPrefix(name, "pre-key"):
		return true
	case strings.HasPrefix(name, "app-state"):
		return true
	case strings.HasPrefix(name, "whatsmeow.db"):
		// Device store plus its -wal/-shm sidecars.
		return true
	default:
		return false
	}
}

// do runs fn on the queue and waits for completion, keeping restore and
// wipe ordered with any in-flight persists.
func (s *Store) do(name string, fn func()) {
	done := make(chan struct{})
	s.queue.Do(name, func() {
		defer close(done)
		fn()
	})
	<-done
}

func (s *Store) publish(kind string) {
	if s.bus != nil {
		s.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now()})
	}
}
