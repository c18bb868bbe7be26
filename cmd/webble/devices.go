package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/webble-core/internal/device"
	"github.com/nerrad567/webble-core/internal/devicecache"
	"github.com/nerrad567/webble-core/internal/infrastructure/config"
)

func newDevicesCmd(configPath func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "Inspect and manage persisted device grants",
		Long: `Inspect and manage the device cache.

The cache remembers granted devices so getDevices and reconnection work
across restarts. Changes made here are seen by a running bridge on its next
cache read.`,
	}
	cmd.AddCommand(newDevicesListCmd(configPath))
	cmd.AddCommand(newDevicesForgetCmd(configPath))
	return cmd
}

func newDevicesListCmd(configPath func() string) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List persisted device grants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openCache(cmd, configPath())
			if err != nil {
				return err
			}
			defer store.Close() //nolint:errcheck // read-only use

			entries, err := store.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing devices: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(devicecache.Descriptions(entries))
			}

			if len(entries) == 0 {
				fmt.Fprintln(out, "no persisted devices")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tUPDATED")
			for _, e := range entries {
				var desc device.Description
				//nolint:errcheck // a bad description still lists by id
				json.Unmarshal(e.Description, &desc)
				fmt.Fprintf(tw, "%s\t%s\t%s\n", e.ExternalID, desc.Name, e.UpdatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print page-visible descriptions as JSON")
	return cmd
}

func newDevicesForgetCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "forget <device-id>",
		Short: "Remove a persisted device grant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openCache(cmd, configPath())
			if err != nil {
				return err
			}
			defer store.Close() //nolint:errcheck // closing after a single write

			if err := store.Remove(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("forgetting %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "forgot %s\n", args[0])
			return nil
		},
	}
}

func openCache(cmd *cobra.Command, configPath string) (devicecache.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	store, err := devicecache.Open(cmd.Context(), cfg)
	if err != nil {
		return nil, fmt.Errorf("opening device cache: %w", err)
	}
	return store, nil
}
