// bambu-bridge: Bambu Lab VLAN discovery bridge
//
// Forwards Bambu Lab printer discovery broadcasts captured on one interface
// (the printer VLAN) as UDP broadcasts on another (the client VLAN), so that
// slicers can find printers across isolated networks.
//
// Usage:
//
//	bambu-bridge [-q|-v] [--config <path>]
//	bambu-bridge edit     edit the configuration file
//	bambu-bridge version  print version information
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"bambu-bridge/cmd/bridge"
)

const (
	defaultSystemPath = "/etc/bambu-bridge/config.toml"
	defaultLocalPath  = "config.toml"
	version           = "1.0.0"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !bridge.Reported(err) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(bridge.ExitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	var opts bridge.Options

	root := &cobra.Command{
		Use:   "bambu-bridge",
		Short: "Bambu Lab VLAN discovery bridge that forwards printer broadcasts",
		Long: `bambu-bridge captures Bambu Lab printer discovery broadcasts (UDP 1900/2021)
on the source interface and re-broadcasts them on the target interface.

Interfaces and the default verbosity come from the config file, overridden by
the SOURCE_IFACE, TARGET_IFACE and LOG_LEVEL environment variables.
Requires root or CAP_NET_RAW.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ConfigPath = resolveConfigPath(opts.ConfigPath)
			return bridge.Run(opts)
		},
	}

	root.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "",
		fmt.Sprintf("config file path (default: ./%s, then %s)", defaultLocalPath, defaultSystemPath))
	root.Flags().BoolVarP(&opts.Quiet, "quiet", "q", false,
		"suppress all output except critical errors and status messages")
	root.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false,
		"show detailed packet information including full hex dump")
	root.MarkFlagsMutuallyExclusive("quiet", "verbose")

	root.AddCommand(&cobra.Command{
		Use:   "edit",
		Short: "Edit the configuration file in your system editor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return bridge.EditConfig(resolveConfigPath(opts.ConfigPath))
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("bambu-bridge v%s\n", version)
		},
	})

	return root
}

// resolveConfigPath auto-discovers the config file when none was given.
func resolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	if _, err := os.Stat(defaultLocalPath); err == nil {
		return defaultLocalPath
	}
	return defaultSystemPath
}
