package main

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/SimplyPrint/card-gateway/internal/api"
	"github.com/SimplyPrint/card-gateway/internal/config"
)

// globalOptions are the flags every command understands.
type globalOptions struct {
	configPath string
	noTray     bool
	host       string
	port       int
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "card-gateway",
		Short: "Card Gateway - local card reader service for web applications",
		Long: `Card Gateway exposes the card readers attached to this machine over a local
HTTP and WebSocket API. Running it without a command starts the server.

Environment variables:
  CARD_GATEWAY_HOST             Host to bind to (default: 127.0.0.1)
  CARD_GATEWAY_PORT             Port to listen on (default: 3001)
  CARD_GATEWAY_DRIVER           Driver command line
  CARD_GATEWAY_DRIVER_MODE      "process" or "pcsc"
  CARD_GATEWAY_DRIVER_TIMEOUT   Per-operation driver timeout (e.g. 15s)`,
		Version:       api.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}
	root.SetVersionTemplate("card-gateway {{.Version}}\n")

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "path to a .toml or .yaml config file")
	pf.BoolVar(&opts.noTray, "no-tray", false, "run without system tray (headless mode)")
	pf.StringVar(&opts.host, "host", "", "host to bind to (overrides config)")
	pf.IntVar(&opts.port, "port", 0, "port to listen on (overrides config)")

	root.AddCommand(
		newServeCmd(opts),
		newReadersCmd(opts),
		newUIDCmd(opts),
		newVersionCmd(),
		newInstallCmd(opts),
		newUninstallCmd(opts),
	)
	return root
}

// loadConfig reads the config file and environment, then applies flag
// overrides and validates the result.
func loadConfig(opts *globalOptions) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if opts.host != "" {
		cfg.Server.Host = opts.host
	}
	if opts.port != 0 {
		cfg.Server.Port = opts.port
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// absConfigPath is the config path as an auto-start entry should record it.
func absConfigPath(opts *globalOptions) string {
	if opts.configPath == "" {
		return ""
	}
	if abs, err := filepath.Abs(opts.configPath); err == nil {
		return abs
	}
	return opts.configPath
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "card-gateway %s\n", api.Version)
	fmt.Fprintf(w, "Build time: %s\n", api.BuildTime)
	fmt.Fprintf(w, "Git commit: %s\n", api.GitCommit)
}
