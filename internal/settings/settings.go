// Package settings persists the user's preferences between runs.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrInvalidReader is returned for a negative operational reader index.
var ErrInvalidReader = errors.New("reader index must be zero or greater")

// Settings holds user preferences that persist across restarts.
type Settings struct {
	CrashReporting bool `json:"crashReporting"`
	// OperationalReader is the reader index card operations target when a
	// request does not name one. Nil means the driver default.
	OperationalReader *int `json:"operationalReader,omitempty"`
}

// DefaultSettings returns the default settings.
func DefaultSettings() Settings {
	return Settings{CrashReporting: false}
}

// DefaultPath returns the per-user settings file location.
func DefaultPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "card-gateway", "settings.json"), nil
}

// Store guards one settings file.
type Store struct {
	mu      sync.RWMutex
	path    string
	current Settings
}

// Open reads settings from path. A missing file yields defaults; a corrupt one
// yields defaults and the parse error so the caller can log it.
func Open(path string) (*Store, error) {
	s := &Store{path: path, current: DefaultSettings()}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return s, err
	}

	var loaded Settings
	if err := json.Unmarshal(data, &loaded); err != nil {
		return s, fmt.Errorf("parse %s: %w", path, err)
	}
	if loaded.OperationalReader != nil && *loaded.OperationalReader < 0 {
		loaded.OperationalReader = nil
	}
	s.current = loaded
	return s, nil
}

// Path is the file the store saves to.
func (s *Store) Path() string {
	return s.path
}

// Get returns a copy of the current settings.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.current
	if s.current.OperationalReader != nil {
		idx := *s.current.OperationalReader
		out.OperationalReader = &idx
	}
	return out
}

// IsCrashReportingEnabled returns whether crash reporting is enabled.
func (s *Store) IsCrashReportingEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.CrashReporting
}

// SetCrashReporting updates the crash reporting preference and saves.
func (s *Store) SetCrashReporting(enabled bool) error {
	return s.update(func(cur *Settings) { cur.CrashReporting = enabled })
}

// SetOperationalReader pins card operations to reader idx, or clears the pin
// when idx is nil.
func (s *Store) SetOperationalReader(idx *int) error {
	if idx != nil && *idx < 0 {
		return ErrInvalidReader
	}
	var pinned *int
	if idx != nil {
		v := *idx
		pinned = &v
	}
	return s.update(func(cur *Settings) { cur.OperationalReader = pinned })
}

// ReaderIndex returns the pinned operational reader, or -1 if none.
func (s *Store) ReaderIndex() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current.OperationalReader == nil {
		return -1
	}
	return *s.current.OperationalReader
}

func (s *Store) update(fn func(*Settings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.current
	fn(&next)
	if err := s.save(next); err != nil {
		return err
	}
	s.current = next
	return nil
}

// save writes atomically: a temp file in the same directory, then rename.
func (s *Store) save(v Settings) error {
	if s.path == "" {
		return nil
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".settings-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
