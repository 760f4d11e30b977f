package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "fleetdesk",
		Short:         "Fleet dashboard data layer tools",
		Long:          "Read and write fleet resources through the query cache, or run a local development API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var envFile string
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Optional .env file to load before reading the environment")

	rootCmd.AddCommand(devapiCmd())
	rootCmd.AddCommand(bookingsCmd(&envFile))
	rootCmd.AddCommand(prefetchCmd(&envFile))
	return rootCmd
}
