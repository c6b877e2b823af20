package state

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/arena-labs/arena-gateway/internal/domain/routing"
)

func newStore(t *testing.T) *FileStateStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway", "state.json")
	return NewFileStateStore(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestLoadMissingFile(t *testing.T) {
	s := newStore(t)

	reg, err := s.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if reg != nil {
		t.Errorf("reg = %+v, want nil", reg)
	}
	if s.Exists() {
		t.Error("Exists = true for missing file")
	}
}

func TestSaveAndLoad(t *testing.T) {
	s := newStore(t)

	want := &routing.Registration{
		ChallengeID: "mcp-level-01",
		Address:     "http://localhost:9001",
		UpdatedAt:   time.Now().UTC(),
	}
	if err := s.Save(want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !s.Exists() {
		t.Fatal("state file not written")
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got == nil || got.ChallengeID != want.ChallengeID || got.Address != want.Address {
		t.Errorf("Load = %+v, want %+v", got, want)
	}
}

func TestSaveNilClearsRegistration(t *testing.T) {
	s := newStore(t)

	if err := s.Save(&routing.Registration{ChallengeID: "c1", Address: "http://localhost:9001"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(nil); err != nil {
		t.Fatal(err)
	}

	// The file survives as an explicit empty document.
	if !s.Exists() {
		t.Error("state file deleted on clear")
	}
	got, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("Load = %+v, want nil", got)
	}
}

func TestLoadCorruptFile(t *testing.T) {
	s := newStore(t)
	if err := os.MkdirAll(filepath.Dir(s.Path()), 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.Path(), []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Load(); err == nil {
		t.Error("expected error for corrupt state file")
	}
}

func TestSavePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permission bits")
	}

	s := newStore(t)
	if err := s.Save(&routing.Registration{ChallengeID: "c1", Address: "http://localhost:9001"}); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(s.Path())
	if err != nil {
		t.Fatal(err)
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		t.Errorf("mode = %04o, want 0600", mode)
	}
}

func TestSaveOverwrites(t *testing.T) {
	s := newStore(t)

	if err := s.Save(&routing.Registration{ChallengeID: "c1", Address: "http://localhost:9001"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(&routing.Registration{ChallengeID: "c2", Address: "http://localhost:9002"}); err != nil {
		t.Fatal(err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if got.ChallengeID != "c2" {
		t.Errorf("ChallengeID = %q, want c2", got.ChallengeID)
	}
}
