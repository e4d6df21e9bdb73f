package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/SimplyPrint/card-gateway/internal/config"
	"github.com/SimplyPrint/card-gateway/internal/driver"
	"github.com/SimplyPrint/card-gateway/internal/gateway"
	"github.com/SimplyPrint/card-gateway/internal/logging"
)

func newReadersCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "readers",
		Short: "List connected card readers and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, opts, driver.ListReaders())
		},
	}
}

func newUIDCmd(opts *globalOptions) *cobra.Command {
	var reader int
	cmd := &cobra.Command{
		Use:   "uid",
		Short: "Read the UID of the card on a reader and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, opts, driver.ReadUID(reader))
		},
	}
	cmd.Flags().IntVarP(&reader, "reader", "r", driver.AutoReader, "reader index (default: pinned reader, else 1)")
	return cmd
}

// runOnce executes one operation without starting the server and prints the
// result document.
func runOnce(cmd *cobra.Command, opts *globalOptions, req driver.Request) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logging.Init(cfg.Logging.Capacity, logging.LevelWarn)

	store := openSettings()
	res := executeOnce(cmd.Context(), cfg, store.ReaderIndex, req)
	if err := printResult(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("%s failed: %s", req.Kind.Label(), res.Message)
	}
	return nil
}

func executeOnce(ctx context.Context, cfg config.Config, readerIndex func() int, req driver.Request) *gateway.Result {
	if ctx == nil {
		ctx = context.Background()
	}
	d := newDispatcher(cfg, dispatcherDeps{readerIndex: readerIndex})
	return d.Execute(ctx, req)
}

func printResult(w io.Writer, res *gateway.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
