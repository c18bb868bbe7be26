// Command webble runs the Web Bluetooth bridge: a local service that lets web
// pages discover and connect to Bluetooth LE peripherals through the host's
// radio.
//
// Usage:
//
//	webble serve              Run the bridge
//	webble devices list       Show persisted device grants
//	webble devices forget ID  Remove a persisted grant
//	webble migrate status     Show database migrations
//	webble version            Print build information
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// configEnvVar overrides defaultConfigPath when set.
const configEnvVar = "WEBBLE_CONFIG"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "webble",
		Short: "Web Bluetooth bridge",
		Long: `webble bridges web pages to the host's Bluetooth LE radio.

Pages obtain a token from POST /api/v1/pages, connect to /api/v1/ws and
exchange request frames for device selection and GATT connections.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", getConfigPath(),
		"configuration file (env "+configEnvVar+")")

	path := func() string { return configPath }

	root.AddCommand(newServeCmd(path))
	root.AddCommand(newDevicesCmd(path))
	root.AddCommand(newMigrateCmd(path))
	root.AddCommand(newVersionCmd())

	return root
}

// getConfigPath returns the configuration file path.
// Uses WEBBLE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	return defaultConfigPath
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "webble %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
