package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-query-cache/fleet"
)

func bookingsCmd(envFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bookings",
		Short: "List and change bookings",
	}
	cmd.AddCommand(bookingsListCmd(envFile))
	cmd.AddCommand(bookingsCreateCmd(envFile))
	cmd.AddCommand(bookingsStatusCmd(envFile))
	return cmd
}

func bookingsListCmd(envFile *string) *cobra.Command {
	var params fleet.ListParams
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print one page of bookings",
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := openContainer(cmd.Context(), *envFile)
			if err != nil {
				return err
			}
			defer container.Close()

			if status != "" {
				params.Filters = map[string]string{"status": status}
			}
			page, err := container.Fleet().Bookings.Page(cmd.Context(), params)
			if err != nil {
				return err
			}
			printBookings(cmd.OutOrStdout(), page)
			return nil
		},
	}

	cmd.Flags().IntVar(&params.Page, "page", 1, "Page number")
	cmd.Flags().IntVar(&params.PageSize, "page-size", fleet.DefaultPageSize, "Page size")
	cmd.Flags().StringVar(&params.Search, "search", "", "Search term")
	cmd.Flags().StringVar(&status, "status", "", "Only bookings with this status")
	return cmd
}

func bookingsCreateCmd(envFile *string) *cobra.Command {
	var (
		booking fleet.Booking
		days    int
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a booking",
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := openContainer(cmd.Context(), *envFile)
			if err != nil {
				return err
			}
			defer container.Close()

			create, err := container.Fleet().Bookings.Create()
			if err != nil {
				return err
			}

			if booking.StartsAt.IsZero() {
				booking.StartsAt = time.Now().Truncate(time.Hour)
			}
			booking.EndsAt = booking.StartsAt.Add(time.Duration(days) * 24 * time.Hour)

			created, err := create.Mutate(cmd.Context(), booking)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created booking %s\n", created.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&booking.ID, "id", "", "Booking id, generated by the API when empty")
	cmd.Flags().StringVar(&booking.CustomerID, "customer", "", "Customer id")
	cmd.Flags().StringVar(&booking.VehicleID, "vehicle", "", "Vehicle id")
	cmd.Flags().StringVar(&booking.Status, "status", fleet.BookingPending, "Initial status")
	cmd.Flags().Float64Var(&booking.Total, "total", 0, "Booking total")
	cmd.Flags().IntVar(&days, "days", 1, "Rental length in days")
	_ = cmd.MarkFlagRequired("customer")
	_ = cmd.MarkFlagRequired("vehicle")
	return cmd
}

func bookingsStatusCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Change the status of a booking",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := openContainer(cmd.Context(), *envFile)
			if err != nil {
				return err
			}
			defer container.Close()

			setStatus, err := container.Fleet().Bookings.SetStatus()
			if err != nil {
				return err
			}
			updated, err := setStatus.Mutate(cmd.Context(), fleet.StatusChange{ID: args[0], Status: args[1]})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "booking %s is now %s\n", updated.ID, updated.Status)
			return nil
		},
	}
}

func printBookings(w io.Writer, page fleet.Page[fleet.Booking]) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCUSTOMER\tVEHICLE\tSTATUS\tSTARTS\tTOTAL")
	for _, b := range page.Data {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%.2f\n", b.ID, b.CustomerID, b.VehicleID, b.Status, b.StartsAt.Format("2006-01-02"), b.Total)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "page %d, %d of %d bookings\n", page.Page, len(page.Data), page.Total)
}
