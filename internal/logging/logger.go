// Package logging keeps recent log entries in memory so they can be served
// over the API, mirrors them to the console, and handles crash reports.
package logging

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// Level is the severity of a log entry.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	}
	return "unknown"
}

func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// ParseLevel accepts "debug", "info", "warn"/"warning" and "error".
func ParseLevel(s string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	}
	return LevelInfo, false
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	}
	return zerolog.InfoLevel
}

// Category groups entries by subsystem.
type Category string

const (
	CatSystem    Category = "system"
	CatHTTP      Category = "http"
	CatCard      Category = "card"
	CatDriver    Category = "driver"
	CatWebSocket Category = "websocket"
)

// Entry is a single log line.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Category  Category       `json:"category"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

// Stats summarizes what the logger currently holds.
type Stats struct {
	Total    int            `json:"total"`
	Capacity int            `json:"capacity"`
	ByLevel  map[string]int `json:"byLevel"`
}

// Logger is a fixed-size ring of entries plus an optional console mirror.
type Logger struct {
	mu       sync.RWMutex
	entries  []Entry
	next     int
	size     int
	minLevel Level
	console  *zerolog.Logger
}

// New creates a logger holding up to capacity entries. Entries below minLevel
// are dropped. Console output goes to w when it is non-nil.
func New(capacity int, minLevel Level, w io.Writer) *Logger {
	if capacity <= 0 {
		capacity = 1000
	}
	l := &Logger{
		entries:  make([]Entry, capacity),
		minLevel: minLevel,
	}
	l.SetConsole(w)
	return l
}

// SetConsole redirects the console mirror. nil turns it off.
func (l *Logger) SetConsole(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if w == nil {
		l.console = nil
		return
	}
	out := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
		NoColor:    !isTerminal(w),
	}
	zl := zerolog.New(out).With().Timestamp().Str("app", "card-gateway").Logger().Level(l.minLevel.zerolog())
	l.console = &zl
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Log records an entry.
func (l *Logger) Log(level Level, cat Category, msg string, data map[string]any) {
	if level < l.minLevel {
		return
	}
	entry := Entry{
		Timestamp: time.Now(),
		Level:     level,
		Category:  cat,
		Message:   msg,
		Data:      data,
	}

	l.mu.Lock()
	l.entries[l.next] = entry
	l.next = (l.next + 1) % len(l.entries)
	if l.size < len(l.entries) {
		l.size++
	}
	console := l.console
	l.mu.Unlock()

	if console != nil {
		ev := console.WithLevel(level.zerolog()).Str("category", string(cat))
		for k, v := range data {
			ev = ev.Interface(k, v)
		}
		ev.Msg(msg)
	}
}

// GetEntries returns up to limit entries, newest first. minLevel and category
// filter when non-nil. A limit of 0 or less means everything.
func (l *Logger) GetEntries(limit int, minLevel *Level, category *Category) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, 0, l.size)
	for i := 0; i < l.size; i++ {
		idx := (l.next - 1 - i + len(l.entries)) % len(l.entries)
		e := l.entries[idx]
		if minLevel != nil && e.Level < *minLevel {
			continue
		}
		if category != nil && e.Category != *category {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (l *Logger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	st := Stats{
		Total:    l.size,
		Capacity: len(l.entries),
		ByLevel:  map[string]int{},
	}
	for i := 0; i < l.size; i++ {
		idx := (l.next - 1 - i + len(l.entries)) % len(l.entries)
		st.ByLevel[l.entries[idx].Level.String()]++
	}
	return st
}

// Clear drops every entry.
func (l *Logger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make([]Entry, len(l.entries))
	l.next = 0
	l.size = 0
}

var (
	globalMu sync.RWMutex
	global   *Logger
)

// Init installs the process-wide logger, mirroring to stderr.
func Init(capacity int, minLevel Level) *Logger {
	l := New(capacity, minLevel, os.Stderr)
	globalMu.Lock()
	global = l
	globalMu.Unlock()
	return l
}

// Get returns the process-wide logger, creating a quiet one if Init was never
// called (as in tests).
func Get() *Logger {
	globalMu.RLock()
	l := global
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = New(1000, LevelDebug, nil)
	}
	return global
}

func Debug(cat Category, msg string, data map[string]any) {
	Get().Log(LevelDebug, cat, msg, data)
}

func Info(cat Category, msg string, data map[string]any) {
	Get().Log(LevelInfo, cat, msg, data)
}

func Warn(cat Category, msg string, data map[string]any) {
	Get().Log(LevelWarn, cat, msg, data)
}

func Error(cat Category, msg string, data map[string]any) {
	Get().Log(LevelError, cat, msg, data)
}
