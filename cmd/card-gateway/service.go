package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SimplyPrint/card-gateway/internal/service"
)

func newInstallCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Start Card Gateway automatically at login",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := service.New(service.Options{ConfigPath: absConfigPath(opts), Headless: opts.noTray})
			if err := svc.Install(); err != nil {
				if errors.Is(err, service.ErrAlreadyInstalled) {
					fmt.Fprintln(cmd.OutOrStdout(), "Auto-start service is already installed")
					return nil
				}
				return fmt.Errorf("failed to install service: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Auto-start service installed successfully")
			return nil
		},
	}
}

func newUninstallCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the auto-start entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := service.New(service.Options{ConfigPath: absConfigPath(opts)})
			if err := svc.Uninstall(); err != nil {
				if errors.Is(err, service.ErrNotInstalled) {
					fmt.Fprintln(cmd.OutOrStdout(), "Auto-start service is not installed")
					return nil
				}
				return fmt.Errorf("failed to uninstall service: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Auto-start service removed successfully")
			return nil
		},
	}
}
