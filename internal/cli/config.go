package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trafficlite/trafficlite/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "example",
		Short: "Print an example config.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.DumpExampleConfig(cmd.OutOrStdout())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config ok: %d intersections, transport %s\n",
				len(cfg.Sensors.Intersections), cfg.Transport.Address)
			return nil
		},
	})

	return cmd
}
