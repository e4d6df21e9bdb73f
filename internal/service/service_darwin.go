//go:build darwin

package service

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"
)

const launchAgentLabel = "com.simplyprint." + appName

// The agent is restarted by launchd only when it exits with an error, so
// `card-gateway` quitting from the tray stays quit.
var plistTemplate = template.Must(template.New("plist").Funcs(template.FuncMap{
	"xml": xmlEscape,
}).Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{xml .Label}}</string>
    <key>ProgramArguments</key>
    <array>
{{- range .Argv}}
        <string>{{xml .}}</string>
{{- end}}
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <dict>
        <key>SuccessfulExit</key>
        <false/>
    </dict>
    <key>StandardOutPath</key>
    <string>{{xml .LogDir}}/{{xml .Name}}.log</string>
    <key>StandardErrorPath</key>
    <string>{{xml .LogDir}}/{{xml .Name}}.err</string>
    <key>WorkingDirectory</key>
    <string>{{xml .WorkingDir}}</string>
</dict>
</plist>
`))

func xmlEscape(s string) (string, error) {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return "", err
	}
	return b.String(), nil
}

type darwinService struct {
	opts Options
}

// New returns the LaunchAgent backed autostart manager.
func New(opts Options) Service {
	return &darwinService{opts: opts}
}

func homeDir() string {
	home, _ := os.UserHomeDir()
	return home
}

func (s *darwinService) plistPath() string {
	return filepath.Join(homeDir(), "Library", "LaunchAgents", launchAgentLabel+".plist")
}

func (s *darwinService) logDir() string {
	return filepath.Join(homeDir(), "Library", "Logs", "Card-Gateway")
}

// renderPlist builds the LaunchAgent for execPath relaunched with args.
func renderPlist(execPath string, args []string, logDir string) ([]byte, error) {
	var buf bytes.Buffer
	err := plistTemplate.Execute(&buf, struct {
		Label      string
		Name       string
		Argv       []string
		LogDir     string
		WorkingDir string
	}{
		Label:      launchAgentLabel,
		Name:       appName,
		Argv:       append([]string{execPath}, args...),
		LogDir:     logDir,
		WorkingDir: filepath.Dir(execPath),
	})
	if err != nil {
		return nil, fmt.Errorf("render launch agent: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *darwinService) Install() error {
	if s.IsInstalled() {
		return ErrAlreadyInstalled
	}

	execPath, err := executablePath()
	if err != nil {
		return err
	}

	logDir := s.logDir()
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	plist, err := renderPlist(execPath, s.opts.launchArgs(), logDir)
	if err != nil {
		return err
	}

	path := s.plistPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create LaunchAgents directory: %w", err)
	}
	if err := os.WriteFile(path, plist, 0644); err != nil {
		return fmt.Errorf("write launch agent: %w", err)
	}

	if out, err := exec.Command("launchctl", "load", "-w", path).CombinedOutput(); err != nil {
		os.Remove(path)
		return fmt.Errorf("launchctl load: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return nil
}

func (s *darwinService) Uninstall() error {
	if !s.IsInstalled() {
		return ErrNotInstalled
	}

	path := s.plistPath()
	// Not loaded is fine.
	_, _ = exec.Command("launchctl", "unload", "-w", path).CombinedOutput()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove launch agent: %w", err)
	}
	return nil
}

func (s *darwinService) IsInstalled() bool {
	_, err := os.Stat(s.plistPath())
	return err == nil
}

func (s *darwinService) Status() (string, error) {
	if !s.IsInstalled() {
		return "not installed", nil
	}
	out, err := exec.Command("launchctl", "list", launchAgentLabel).CombinedOutput()
	switch {
	case err != nil:
		return "installed but not running", nil
	case len(out) > 0:
		return "running", nil
	}
	return "installed", nil
}
