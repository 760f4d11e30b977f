package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func prefetchCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "prefetch [resource...]",
		Short: "Warm the first page of each resource",
		Long:  "Load the first list page of the named resources, or of all of them, concurrently through the cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := openContainer(cmd.Context(), *envFile)
			if err != nil {
				return err
			}
			defer container.Close()

			start := time.Now()
			if err := container.Fleet().Prefetch(cmd.Context(), args...); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, key := range container.Store().Keys() {
				fmt.Fprintln(out, key)
			}
			fmt.Fprintf(out, "prefetched in %s\n", time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}
