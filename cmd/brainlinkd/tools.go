package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"brainlink/pkg/config"
	"brainlink/pkg/discovery"
	"brainlink/pkg/transport"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the config file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a config file with default values",
		Example: `  brainlinkd config init
  brainlinkd config init /etc/brainlink.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultConfigPath
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			cfg := config.Default()
			if err := cfg.Save(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	cmd.AddCommand(initCmd)
	return cmd
}

func newPortsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := transport.ListPorts()
			if err != nil {
				return err
			}
			if len(ports) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no serial ports found")
				return nil
			}
			for _, p := range ports {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
}

func newDiscoverCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find brainlink bridges on the local network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bridges, err := discovery.Scan(cmd.Context(), timeout)
			if err != nil {
				return err
			}
			if len(bridges) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no bridges found")
				return nil
			}
			for _, b := range bridges {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tsession=%s\n", b.Instance, b.URL(), b.Session)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", discovery.DefaultScanTimeout, "How long to listen for announcements")
	return cmd
}
