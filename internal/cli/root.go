// Package cli implements the lanxfer command-line front end: a cobra root
// command with persistent flags, signal-driven cancellation of a shared
// context, and one file per command group.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"lanxfer/internal/config"
	"lanxfer/internal/engine"
	"lanxfer/internal/logging"
)

var (
	cfgPort        int
	cfgDeviceName  string
	cfgDownloadDir string
	cfgDataDir     string
	cfgDebug       bool

	logger *logging.Logger

	rootContext context.Context
	cancelFunc  context.CancelFunc
)

// Version is set by main at build time.
var Version = "dev"

// NewRootCmd builds the lanxfer root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "lanxfer",
		Short: "Peer-to-peer LAN file transfer",
		Long: `lanxfer sends files directly between machines on the same network,
with no account, cloud relay, or central server.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.New(os.Stderr, cfgDebug)
		},
	}

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	defaultDataDir := filepath.Join(home, ".lanxfer")

	rootCmd.PersistentFlags().IntVar(&cfgPort, "port", config.DefaultPort, "listening port")
	rootCmd.PersistentFlags().StringVar(&cfgDeviceName, "name", "", "device name advertised to peers (default: hostname)")
	rootCmd.PersistentFlags().StringVar(&cfgDownloadDir, "download-dir", "./downloads", "directory received files are written to")
	rootCmd.PersistentFlags().StringVar(&cfgDataDir, "data-dir", defaultDataDir, "directory favorites.json and history.json live in")
	rootCmd.PersistentFlags().BoolVar(&cfgDebug, "debug", false, "enable debug logging")

	rootCmd.Version = Version
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	return rootCmd
}

// Execute runs the CLI, wiring Ctrl+C to context cancellation the way
// rescale-int's Execute does.
func Execute() error {
	rootContext, cancelFunc = context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		for sig := range sigChan {
			if sig != nil {
				fmt.Fprintf(os.Stderr, "\nreceived %v, shutting down...\n", sig)
				cancelFunc()
			}
		}
	}()

	rootCmd := NewRootCmd()
	AddCommands(rootCmd)
	err := rootCmd.Execute()

	signal.Stop(sigChan)
	close(sigChan)
	return err
}

// AddCommands registers every lanxfer subcommand.
func AddCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newSendCmd())
	rootCmd.AddCommand(newFavoritesCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newInterfacesCmd())
	rootCmd.AddCommand(newResolveCmd())
}

// GetLogger returns the process-wide CLI logger, initializing a default
// one if Execute hasn't run yet (e.g. under test).
func GetLogger() *logging.Logger {
	if logger == nil {
		logger = logging.Default()
	}
	return logger
}

// GetContext returns the signal-cancellable root context.
func GetContext() context.Context {
	if rootContext == nil {
		return context.Background()
	}
	return rootContext
}

// buildEngine constructs an Engine from the persistent flags, creating the
// data directory if needed.
func buildEngine() (*engine.Engine, error) {
	if err := os.MkdirAll(cfgDataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	settings := config.Default()
	settings.Port = cfgPort
	settings.DownloadDir = cfgDownloadDir
	if cfgDeviceName != "" {
		settings.DeviceName = cfgDeviceName
	}

	return engine.New(settings, engine.Paths{
		FavoritesFile: filepath.Join(cfgDataDir, "favorites.json"),
		HistoryFile:   filepath.Join(cfgDataDir, "history.json"),
	}, GetLogger())
}
