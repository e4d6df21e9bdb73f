//go:build !linux

package tray

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/getlantern/systray"

	"github.com/SimplyPrint/card-gateway/internal/api"
	"github.com/SimplyPrint/card-gateway/internal/gateway"
)

// TrayApp manages the system tray icon and menu
type TrayApp struct {
	serverAddr string
	dispatcher *gateway.Dispatcher
	onQuit     func()
	mu         sync.Mutex
	stop       context.CancelFunc

	mStatus  *systray.MenuItem
	mReaders *systray.MenuItem
	mActive  *systray.MenuItem
	mHistory *systray.MenuItem
}

// New creates a new TrayApp instance
func New(serverAddr string, d *gateway.Dispatcher, onQuit func()) *TrayApp {
	return &TrayApp{
		serverAddr: serverAddr,
		dispatcher: d,
		onQuit:     onQuit,
	}
}

// RunWithServer runs the tray on the main thread and starts the server in a goroutine.
// This function BLOCKS - it must be called from the main goroutine on macOS.
func (t *TrayApp) RunWithServer(serverStart func()) {
	systray.Run(func() {
		t.onReady()
		if serverStart != nil {
			go serverStart()
		}
	}, t.onExit)
}

// Quit closes the tray, which returns from RunWithServer.
func (t *TrayApp) Quit() {
	systray.Quit()
}

func (t *TrayApp) onReady() {
	systray.SetIcon(iconData)
	systray.SetTitle("") // Empty title for cleaner menu bar (macOS)
	systray.SetTooltip("Card Gateway")

	mVersion := systray.AddMenuItem(fmt.Sprintf("Card Gateway %s", displayVersion(api.Version)), "")
	mVersion.Disable()

	systray.AddSeparator()

	t.mStatus = systray.AddMenuItem("Status: Starting...", "Server status")
	t.mStatus.Disable()
	t.mReaders = systray.AddMenuItem("Readers: Checking...", "Connected card readers")
	t.mReaders.Disable()
	t.mActive = systray.AddMenuItem("Active: -", "Reader shown as active")
	t.mActive.Disable()
	t.mHistory = systray.AddMenuItem(historyTitle(0), "Recent UID reads")
	t.mHistory.Disable()

	systray.AddSeparator()

	mRefresh := systray.AddMenuItem("Refresh Readers", "List readers again")
	mClear := systray.AddMenuItem("Clear UID History", "Forget recent card reads")
	mHealth := systray.AddMenuItem("Open Health Page", "Open the health endpoint in a browser")

	systray.AddSeparator()

	mQuit := systray.AddMenuItem("Quit", "Exit Card Gateway")

	ctx, cancel := context.WithCancel(context.Background())
	t.stop = cancel
	go t.refreshLoop(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-mRefresh.ClickedCh:
				go t.updateStatus(ctx)
			case <-mClear.ClickedCh:
				t.dispatcher.ClearHistory()
				t.mHistory.SetTitle(historyTitle(0))
			case <-mHealth.ClickedCh:
				t.openBrowser(fmt.Sprintf("http://%s/v1/health", t.serverAddr))
			case <-mQuit.ClickedCh:
				systray.Quit()
			}
		}
	}()
}

func (t *TrayApp) onExit() {
	if t.stop != nil {
		t.stop()
	}
	if t.onQuit != nil {
		t.onQuit()
	}
}

func (t *TrayApp) refreshLoop(ctx context.Context) {
	t.updateStatus(ctx)
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.updateStatus(ctx)
		}
	}
}

// updateStatus refreshes the status display in the tray menu
func (t *TrayApp) updateStatus(ctx context.Context) {
	count, active, errMsg := readerSummary(ctx, t.dispatcher)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.mStatus.SetTitle("Status: Running")
	t.mReaders.SetTitle(readerTitle(count, errMsg))
	if active == "" {
		active = "-"
	}
	t.mActive.SetTitle("Active: " + active)
	t.mHistory.SetTitle(historyTitle(t.dispatcher.History().Len()))
}

func (t *TrayApp) openBrowser(url string) {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}

	_ = cmd.Start()
}

// IsSupported returns true if the system tray is supported on this platform
func IsSupported() bool {
	return true
}
