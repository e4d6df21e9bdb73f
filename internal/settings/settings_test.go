package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	if s.CrashReporting {
		t.Error("CrashReporting should be false by default (opt-in)")
	}
	if s.OperationalReader != nil {
		t.Error("no reader should be pinned by default")
	}
}

func TestOpenMissingFileGivesDefaults(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	if store.IsCrashReportingEnabled() {
		t.Error("expected defaults")
	}
	if store.ReaderIndex() != -1 {
		t.Errorf("ReaderIndex() = %d, want -1", store.ReaderIndex())
	}
}

func TestOpenInvalidJSONReturnsDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("not json"), 0644); err != nil {
		t.Fatal(err)
	}

	store, err := Open(path)
	if err == nil {
		t.Error("Expected error for invalid JSON")
	}
	if store == nil || store.IsCrashReportingEnabled() {
		t.Error("expected a usable store with defaults")
	}
}

func TestSettingsFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.json")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	if err := store.SetCrashReporting(true); err != nil {
		t.Fatalf("SetCrashReporting returned error: %v", err)
	}
	idx := 0
	if err := store.SetOperationalReader(&idx); err != nil {
		t.Fatalf("SetOperationalReader returned error: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen returned error: %v", err)
	}
	if !reopened.IsCrashReportingEnabled() {
		t.Error("Expected CrashReporting=true after round-trip")
	}
	if reopened.ReaderIndex() != 0 {
		t.Errorf("ReaderIndex() = %d, want 0", reopened.ReaderIndex())
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("expected only settings.json on disk, got %d entries", len(entries))
	}
}

func TestSetOperationalReader(t *testing.T) {
	store, _ := Open(filepath.Join(t.TempDir(), "settings.json"))

	bad := -2
	if err := store.SetOperationalReader(&bad); err != ErrInvalidReader {
		t.Errorf("expected ErrInvalidReader, got %v", err)
	}

	idx := 3
	if err := store.SetOperationalReader(&idx); err != nil {
		t.Fatal(err)
	}
	idx = 7
	if store.ReaderIndex() != 3 {
		t.Error("store must not alias the caller's pointer")
	}

	if err := store.SetOperationalReader(nil); err != nil {
		t.Fatal(err)
	}
	if store.ReaderIndex() != -1 {
		t.Errorf("ReaderIndex() = %d after clearing, want -1", store.ReaderIndex())
	}
}

func TestSaveFailureKeepsPreviousValue(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0644); err != nil {
		t.Fatal(err)
	}

	store, _ := Open(filepath.Join(blocker, "settings.json"))
	if err := store.SetCrashReporting(true); err == nil {
		t.Fatal("expected save to fail under a regular file")
	}
	if store.IsCrashReportingEnabled() {
		t.Error("failed save must not change the in-memory value")
	}
}

func TestSettingsJSONFormat(t *testing.T) {
	data, err := json.Marshal(Settings{CrashReporting: true})
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}

	expected := `{"crashReporting":true}`
	if string(data) != expected {
		t.Errorf("JSON format mismatch: got %s, want %s", string(data), expected)
	}

	idx := 1
	data, _ = json.Marshal(Settings{OperationalReader: &idx})
	if string(data) != `{"crashReporting":false,"operationalReader":1}` {
		t.Errorf("unexpected JSON: %s", data)
	}
}

func TestConcurrentAccess(t *testing.T) {
	store, _ := Open(filepath.Join(t.TempDir(), "settings.json"))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%4 == 0 {
				_ = store.SetCrashReporting(i%8 == 0)
			}
			_ = store.Get()
			_ = store.ReaderIndex()
		}(i)
	}
	wg.Wait()
}
