package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/glorpus-work/gvm/internal/cli"
	"github.com/glorpus-work/gvm/pkg/logger"
)

var (
	configPath string
	verbose    bool
	noColor    bool
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	rootCmd := newRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "cancelled")
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		cancel()
		os.Exit(1)
	}

	cancel()
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gvm",
		Short: "A version manager for the Go toolchain",
		Long: `gvm installs Go toolchains under a user-owned root and switches between
them by atomically retargeting a single active link:
- install: download, verify, unpack and activate a release
- use: switch the active version
- list/status/info: inspect installed and available versions`,
		SilenceUsage: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			level := "info"
			if verbose {
				level = "debug"
			}
			logger.InitLogger(level, noColor)
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default: auto-detect)")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	// Set up CLI pkg variables
	cli.ConfigPath = &configPath
	cli.Verbose = &verbose
	cli.NoColor = &noColor

	// Add subcommands
	cmd.AddCommand(
		cli.NewInstallCmd(),
		cli.NewUseCmd(),
		cli.NewUninstallCmd(),
		cli.NewListCmd(),
		cli.NewStatusCmd(),
		cli.NewInfoCmd(),
		cli.NewCleanCmd(),
		cli.NewVersionCmd(),
	)

	return cmd
}
