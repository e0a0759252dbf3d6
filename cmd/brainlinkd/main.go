// Brainlinkd reads ThinkGear telemetry from a headset and fans it out to
// recorders, a focus detector and a foxglove websocket bridge.
//
// Usage:
//
//	brainlinkd serve [flags]
//	brainlinkd replay <capture> [flags]
//	brainlinkd mock [flags]
//
// See 'brainlinkd --help' for every command.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"brainlink/pkg/config"
	"brainlink/pkg/logging"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := root.ExecuteContext(ctx)
	logging.Sync()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "brainlinkd",
		Short: "ThinkGear EEG telemetry host",
		Long: `brainlinkd decodes the ThinkGear byte stream of a NeuroSky-style headset,
records every sample, watches the raw signal for focus bursts and serves the
telemetry to foxglove over a websocket.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logging.Initialize(opts.logLevel)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", config.DefaultConfigPath, "Config file (.toml, .yaml or .yml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error, off); defaults to $"+logging.LogLevelEnvVar)

	root.AddCommand(
		newServeCmd(opts),
		newReplayCmd(opts),
		newMockCmd(),
		newConfigCmd(),
		newPortsCmd(),
		newDiscoverCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "brainlinkd %s (commit: %s)\n", version, commit)
		},
	}
}

// loadConfig reads the config file, falling back to defaults when absent.
func loadConfig(path string) (config.Config, error) {
	cfg, exists, err := config.LoadOrDefault(path)
	if err != nil {
		return config.Config{}, err
	}
	if !exists {
		logging.Debug("config file not found, using defaults")
	}
	return cfg, nil
}
