//go:build linux

package service

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"
)

// XDG autostart entry, started with the graphical session so PC/SC polkit
// rules see an active session.
const desktopTemplate = `[Desktop Entry]
Type=Application
Name=Card Gateway
Comment=Local card reader gateway for web applications
Exec={{.Command}}
Terminal=false
Categories=Utility;
StartupNotify=false
X-GNOME-Autostart-enabled=true
`

type linuxService struct {
	opts Options
}

// New creates a new platform-specific service manager
func New(opts Options) Service {
	return &linuxService{opts: opts}
}

func (s *linuxService) configDir() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return configDir
}

func (s *linuxService) autostartPath() string {
	return filepath.Join(s.configDir(), "autostart", appName+".desktop")
}

// systemdServicePath is where older installs put a user unit.
func (s *linuxService) systemdServicePath() string {
	return filepath.Join(s.configDir(), "systemd", "user", appName+".service")
}

func (s *linuxService) Install() error {
	if s.IsInstalled() {
		return ErrAlreadyInstalled
	}

	execPath, err := executablePath()
	if err != nil {
		return err
	}
	return s.installAutostart(execPath)
}

// desktopExec quotes arguments the way freedesktop Exec keys expect.
func desktopExec(execPath string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	for _, a := range append([]string{execPath}, args...) {
		if strings.ContainsAny(a, " \t\"'\\$`") {
			a = strconv.Quote(a)
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

func (s *linuxService) installAutostart(execPath string) error {
	autostartDir := filepath.Dir(s.autostartPath())
	if err := os.MkdirAll(autostartDir, 0755); err != nil {
		return fmt.Errorf("failed to create autostart directory: %w", err)
	}

	tmpl, err := template.New("desktop").Parse(desktopTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse desktop template: %w", err)
	}

	f, err := os.Create(s.autostartPath())
	if err != nil {
		return fmt.Errorf("failed to create autostart file: %w", err)
	}
	defer f.Close()

	data := struct{ Command string }{Command: desktopExec(execPath, s.opts.launchArgs())}
	if err := tmpl.Execute(f, data); err != nil {
		return fmt.Errorf("failed to write autostart file: %w", err)
	}
	return nil
}

func (s *linuxService) Uninstall() error {
	if !s.IsInstalled() {
		return ErrNotInstalled
	}

	if err := os.Remove(s.autostartPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove autostart file: %w", err)
	}
	s.cleanupSystemd()
	return nil
}

func (s *linuxService) cleanupSystemd() {
	servicePath := s.systemdServicePath()
	if _, err := os.Stat(servicePath); err != nil {
		return
	}
	unit := appName + ".service"
	_ = exec.Command("systemctl", "--user", "disable", "--now", unit).Run()
	os.Remove(servicePath)
	_ = exec.Command("systemctl", "--user", "daemon-reload").Run()
}

func (s *linuxService) IsInstalled() bool {
	if _, err := os.Stat(s.autostartPath()); err == nil {
		return true
	}
	_, err := os.Stat(s.systemdServicePath())
	return err == nil
}

func (s *linuxService) Status() (string, error) {
	_, autostartErr := os.Stat(s.autostartPath())
	_, systemdErr := os.Stat(s.systemdServicePath())
	autostart, systemd := autostartErr == nil, systemdErr == nil

	if !autostart && !systemd {
		return "not installed", nil
	}

	if err := exec.Command("pgrep", "-x", appName).Run(); err == nil {
		if autostart {
			return "running (autostart)", nil
		}
		return "running (systemd)", nil
	}

	var methods []string
	if autostart {
		methods = append(methods, "autostart")
	}
	if systemd {
		methods = append(methods, "systemd")
	}
	return fmt.Sprintf("installed (%s) but not running", strings.Join(methods, ", ")), nil
}
