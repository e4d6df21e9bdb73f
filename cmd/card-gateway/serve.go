package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/SimplyPrint/card-gateway/internal/api"
	"github.com/SimplyPrint/card-gateway/internal/gateway"
	"github.com/SimplyPrint/card-gateway/internal/logging"
	"github.com/SimplyPrint/card-gateway/internal/service"
	"github.com/SimplyPrint/card-gateway/internal/settings"
	"github.com/SimplyPrint/card-gateway/internal/tray"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and WebSocket server (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}
}

// openSettings loads the user's settings file. A broken file is logged and
// replaced by defaults on the next save.
func openSettings() *settings.Store {
	path, err := settings.DefaultPath()
	if err != nil {
		logging.Warn(logging.CatSystem, "No user config directory, settings will not persist", map[string]any{
			"error": err.Error(),
		})
		path = ""
	}
	store, err := settings.Open(path)
	if err != nil {
		logging.Warn(logging.CatSystem, "Failed to load settings, using defaults", map[string]any{
			"path":  path,
			"error": err.Error(),
		})
	}
	return store
}

func runServe(cmd *cobra.Command, opts *globalOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logging.Init(cfg.Logging.Capacity, cfg.LogLevel())
	logging.Info(logging.CatSystem, "Card Gateway starting", map[string]any{
		"version":    api.Version,
		"driverMode": cfg.Driver.Mode,
	})

	store := openSettings()
	if logging.InitSentry(api.Version, store.IsCrashReportingEnabled(), cfg.Logging.SentryDSN) {
		defer logging.FlushSentry(2 * time.Second)
	}
	defer logging.RecoverAndLog("main", true)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := newRegistry()
	history := gateway.NewHistoryStore()
	hub := api.NewWSHub()
	dispatcher := newDispatcher(cfg, dispatcherDeps{
		history:         history,
		registry:        reg,
		readerIndex:     store.ReaderIndex,
		onHistoryChange: api.HistoryNotifier(hub, history),
	})

	srv := api.NewServer(api.Options{
		Dispatcher: dispatcher,
		Settings:   store,
		Service:    service.New(service.Options{ConfigPath: absConfigPath(opts), Headless: opts.noTray}),
		Hub:        hub,
		Registry:   reg,
		Shutdown:   stop,
	})

	addr := cfg.Address()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	httpSrv := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	startServer := func() {
		logging.Info(logging.CatSystem, "Server started", map[string]any{
			"address":   "http://" + addr,
			"websocket": "ws://" + addr + "/v1/ws",
		})
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error(logging.CatSystem, "Server error", map[string]any{"error": err.Error()})
			serveErr <- err
			stop()
		}
	}

	if !opts.noTray && tray.IsSupported() {
		logging.Info(logging.CatSystem, "Starting with system tray", nil)
		app := tray.New(addr, dispatcher, stop)
		go func() {
			<-ctx.Done()
			app.Quit()
		}()
		// Blocks on the main thread until quit (required for macOS Cocoa).
		app.RunWithServer(startServer)
	} else {
		logging.Info(logging.CatSystem, "Running in headless mode (no system tray)", nil)
		go startServer()
		<-ctx.Done()
	}

	logging.Info(logging.CatSystem, "Shutting down", nil)
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logging.Warn(logging.CatSystem, "Graceful shutdown incomplete", map[string]any{"error": err.Error()})
	}
	<-hubDone

	select {
	case err := <-serveErr:
		return err
	default:
		return nil
	}
}
