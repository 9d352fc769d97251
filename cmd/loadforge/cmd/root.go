package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:     "loadforge",
	Short:   "Loadforge - distributed load generation engine",
	Long:    `Loadforge drives configurable, time-paced synthetic traffic against HTTP, SOAP and browser targets and collects per-request observations.`,
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}
