// Package service registers the gateway to start with the user's session.
package service

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const appName = "card-gateway"

var (
	ErrAlreadyInstalled = errors.New("auto-start is already enabled")
	ErrNotInstalled     = errors.New("auto-start is not enabled")
	ErrUnsupported      = errors.New("auto-start is not supported on this platform")
)

// Service manages the platform's auto-start entry for the gateway.
type Service interface {
	Install() error
	Uninstall() error
	IsInstalled() bool
	Status() (string, error)
}

// Options shapes the command line the auto-start entry launches.
type Options struct {
	// ConfigPath is passed as --config when set.
	ConfigPath string
	// Headless adds --no-tray.
	Headless bool
}

// launchArgs are the arguments after the executable path.
func (o Options) launchArgs() []string {
	args := []string{"serve"}
	if o.ConfigPath != "" {
		args = append(args, "--config", o.ConfigPath)
	}
	if o.Headless {
		args = append(args, "--no-tray")
	}
	return args
}

func executablePath() (string, error) {
	execPath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}
	execPath, err = filepath.EvalSymlinks(execPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve executable path: %w", err)
	}
	return execPath, nil
}
