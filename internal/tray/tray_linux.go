//go:build linux

package tray

import "github.com/SimplyPrint/card-gateway/internal/gateway"

// TrayApp is headless on Linux: desktop tray support varies too much between
// environments, so the gateway always runs without one.
type TrayApp struct {
	quit chan struct{}
}

func New(serverAddr string, d *gateway.Dispatcher, onQuit func()) *TrayApp {
	return &TrayApp{quit: make(chan struct{})}
}

// RunWithServer starts the server and blocks until Quit.
func (t *TrayApp) RunWithServer(serverStart func()) {
	if serverStart != nil {
		go serverStart()
	}
	<-t.quit
}

func (t *TrayApp) Quit() {
	select {
	case <-t.quit:
	default:
		close(t.quit)
	}
}

// IsSupported returns true if the system tray is supported on this platform
func IsSupported() bool {
	return false
}
