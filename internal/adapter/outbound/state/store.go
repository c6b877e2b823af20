// Package state persists the active challenge registration across gateway
// restarts, so a restart does not strand a deployed challenge.
package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/arena-labs/arena-gateway/internal/domain/routing"
)

// stateVersion tags the on-disk schema.
const stateVersion = "1"

// gatewayState is the on-disk document.
type gatewayState struct {
	Version      string                `json:"version"`
	Registration *routing.Registration `json:"registration"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

// FileStateStore reads and writes the gateway state file. Writes are
// atomic (write-tmp-then-rename) and guarded by both an in-process mutex
// and a cross-process flock, so a CLI invocation and a running gateway
// cannot corrupt each other's writes.
type FileStateStore struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewFileStateStore creates a store for the given file path.
func NewFileStateStore(path string, logger *slog.Logger) *FileStateStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStateStore{path: path, logger: logger}
}

// Load reads the persisted registration. A missing file means no
// registration and is not an error. Invalid JSON is an error: a corrupt
// state file should be surfaced, not silently discarded.
func (s *FileStateStore) Load() (*routing.Registration, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	// Warn if the file is readable by group or other. Skip on Windows
	// where Unix permission bits are not meaningful.
	if runtime.GOOS != "windows" {
		if info, statErr := os.Stat(s.path); statErr == nil {
			mode := info.Mode().Perm()
			if mode&0077 != 0 {
				s.logger.Warn("state file has too-open permissions, should be 0600",
					"path", s.path, "current_mode", fmt.Sprintf("%04o", mode))
			}
		}
	}

	var state gatewayState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	return state.Registration, nil
}

// Save writes the registration to disk atomically. A nil registration is
// persisted as an explicit empty document, not a deleted file, so the
// last teardown remains visible on disk.
func (s *FileStateStore) Save(reg *routing.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	lockPath := s.path + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer func() { _ = lockFile.Close() }()

	if err := flockLock(lockFile.Fd()); err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	defer flockUnlock(lockFile.Fd()) //nolint:errcheck

	state := gatewayState{
		Version:      stateVersion,
		Registration: reg,
		UpdatedAt:    time.Now().UTC(),
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	data = append(data, '\n')

	if err := s.writeAtomic(data); err != nil {
		return err
	}

	if err := os.Chmod(s.path, 0600); err != nil {
		s.logger.Warn("failed to set permissions on state file", "error", err)
	}

	s.logger.Debug("state saved", "path", s.path)
	return nil
}

// writeAtomic writes data to a temp file, fsyncs it, and renames it over
// the target path. On any error the temp file is cleaned up.
func (s *FileStateStore) writeAtomic(data []byte) error {
	tmpPath := s.path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := f.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp to state: %w", err)
	}
	return nil
}

// Exists returns true if the state file exists on disk.
func (s *FileStateStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Path returns the configured file path.
func (s *FileStateStore) Path() string {
	return s.path
}

var _ routing.RegistrationStore = (*FileStateStore)(nil)
