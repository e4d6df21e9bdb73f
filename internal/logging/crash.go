package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// MaxCrashLogs is the maximum number of crash logs to keep
	MaxCrashLogs = 20
	// CrashLogMaxAge is the maximum age of crash logs before cleanup
	CrashLogMaxAge = 30 * 24 * time.Hour
)

var (
	crashDirMu       sync.RWMutex
	crashDirOverride string
)

// SetCrashLogDir overrides where crash logs are written. An empty dir restores
// the platform default.
func SetCrashLogDir(dir string) {
	crashDirMu.Lock()
	crashDirOverride = dir
	crashDirMu.Unlock()
}

// CrashLogDir returns the directory for crash logs based on the platform.
func CrashLogDir() string {
	crashDirMu.RLock()
	dir := crashDirOverride
	crashDirMu.RUnlock()
	if dir != "" {
		return dir
	}

	switch runtime.GOOS {
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Logs", "Card-Gateway")
	case "windows":
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData, _ = os.UserHomeDir()
		}
		return filepath.Join(appData, "Card-Gateway", "logs")
	default:
		if state := os.Getenv("XDG_STATE_HOME"); state != "" {
			return filepath.Join(state, "card-gateway", "logs")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "state", "card-gateway", "logs")
	}
}

// WriteCrashLog writes a crash report to a timestamped file and returns its
// path. Old reports are pruned in the background.
func WriteCrashLog(panicValue any, stack []byte) (string, error) {
	dir := CrashLogDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create crash log directory: %w", err)
	}

	now := time.Now()
	crashFilePath := filepath.Join(dir, fmt.Sprintf("crash_%s.log", now.Format("2006-01-02_15-04-05")))

	var b strings.Builder
	b.WriteString("Card Gateway Crash Report\n")
	b.WriteString("=========================\n")
	fmt.Fprintf(&b, "Time: %s\n", now.Format(time.RFC3339))
	fmt.Fprintf(&b, "Go Version: %s\n", runtime.Version())
	fmt.Fprintf(&b, "OS/Arch: %s/%s\n\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(&b, "Panic Value:\n%v\n\n", panicValue)
	fmt.Fprintf(&b, "Stack Trace:\n%s\n\n", stack)
	fmt.Fprintf(&b, "Build Info:\n%s\n", buildInfo())

	if err := os.WriteFile(crashFilePath, []byte(b.String()), 0644); err != nil {
		return "", fmt.Errorf("failed to write crash log: %w", err)
	}

	go cleanupOldCrashLogs(dir, now)

	return crashFilePath, nil
}

func buildInfo() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "Build info not available"
	}
	return info.String()
}

// RecoverAndLog recovers from a panic, logs it to a file, and optionally re-panics.
// Use this as: defer logging.RecoverAndLog("context", true)
func RecoverAndLog(context string, rePanic bool) {
	if r := recover(); r != nil {
		reportPanic(context, r)
		if rePanic {
			panic(r)
		}
	}
}

// RecoverAndLogFunc is like RecoverAndLog but calls onPanic before optionally
// re-panicking. crashFile is empty when the report could not be written.
func RecoverAndLogFunc(context string, rePanic bool, onPanic func(panicValue any, crashFile string)) {
	if r := recover(); r != nil {
		crashFile := reportPanic(context, r)
		if onPanic != nil {
			onPanic(r, crashFile)
		}
		if rePanic {
			panic(r)
		}
	}
}

func reportPanic(context string, r any) string {
	stack := debug.Stack()

	CapturePanic(r, stack, context)

	Error(CatSystem, fmt.Sprintf("PANIC in %s: %v", context, r), map[string]any{
		"panic": fmt.Sprintf("%v", r),
		"stack": string(stack),
	})

	crashFile, err := WriteCrashLog(r, stack)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write crash log: %v\n", err)
		crashFile = ""
	} else {
		fmt.Fprintf(os.Stderr, "Crash log written to: %s\n", crashFile)
	}

	fmt.Fprintf(os.Stderr, "\n=== PANIC in %s ===\n%v\n\nStack trace:\n%s\n", context, r, stack)
	return crashFile
}

// CrashLogInfo contains metadata about a crash log file.
type CrashLogInfo struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}

func isCrashLog(name string) bool {
	return strings.HasPrefix(name, "crash_") && strings.HasSuffix(name, ".log")
}

// crashLogEntries lists crash_*.log files in dir, oldest first.
func crashLogEntries(dir string) ([]os.DirEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var logs []os.DirEntry
	for _, entry := range entries {
		if !entry.IsDir() && isCrashLog(entry.Name()) {
			logs = append(logs, entry)
		}
	}
	sort.Slice(logs, func(i, j int) bool {
		return logs[i].Name() < logs[j].Name()
	})
	return logs, nil
}

// GetCrashLogs returns up to limit crash logs, newest first.
func GetCrashLogs(limit int) ([]CrashLogInfo, error) {
	dir := CrashLogDir()
	entries, err := crashLogEntries(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []CrashLogInfo{}, nil
		}
		return nil, err
	}

	logs := []CrashLogInfo{}
	for i := len(entries) - 1; i >= 0 && len(logs) < limit; i-- {
		info, err := entries[i].Info()
		if err != nil {
			continue
		}
		logs = append(logs, CrashLogInfo{
			Name:    entries[i].Name(),
			Path:    filepath.Join(dir, entries[i].Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return logs, nil
}

// ReadCrashLog reads the contents of a crash log file by name.
func ReadCrashLog(filename string) (string, error) {
	if filepath.Base(filename) != filename || !isCrashLog(filename) {
		return "", fmt.Errorf("invalid filename")
	}

	content, err := os.ReadFile(filepath.Join(CrashLogDir(), filename))
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// cleanupOldCrashLogs keeps at most MaxCrashLogs files in dir and removes any
// older than CrashLogMaxAge.
func cleanupOldCrashLogs(dir string, now time.Time) {
	crashLogs, err := crashLogEntries(dir)
	if err != nil {
		return
	}

	for i, entry := range crashLogs {
		shouldDelete := len(crashLogs)-i > MaxCrashLogs
		if info, err := entry.Info(); err == nil && now.Sub(info.ModTime()) > CrashLogMaxAge {
			shouldDelete = true
		}
		if shouldDelete {
			_ = os.Remove(filepath.Join(dir, entry.Name()))
		}
	}
}
