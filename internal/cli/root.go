// Package cli defines the Cobra commands for the trafficlite binary.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	version    = "dev" // set via ldflags at build time
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trafficlite",
		Short: "Adaptive traffic light controller",
		Long: `trafficlite drives a fleet of intersection lights from vehicle counts.
Sensors send telemetry to a loopback receiver while a decision loop samples
the same sensors directly; every transition is appended to the event log.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config.yaml (defaults are used when empty)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newTokenCmd())
	cmd.AddCommand(newConfigCmd())
	return cmd
}

// Execute runs the root command. Called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
