package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-query-cache/config"
	"github.com/goliatone/go-query-cache/fleet"
	"github.com/goliatone/go-query-cache/internal/devapi"
	"github.com/goliatone/go-query-cache/internal/logging"
)

func devapiCmd() *cobra.Command {
	var (
		listenAddr string
		dsn        string
		token      string
		latency    time.Duration
		seed       int
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "devapi",
		Short: "Run the development REST API",
		Long:  "Serve a SQLite backed REST API with the shape of the fleet backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.New(config.LogConfig{Level: logLevel, Format: "text"})

			ctx := cmd.Context()
			db, err := devapi.OpenSQLite(ctx, dsn)
			if err != nil {
				return err
			}
			defer db.Close()

			api := devapi.New(db,
				devapi.WithToken(token),
				devapi.WithLatency(latency),
				devapi.WithLogger(logging.Component(logger, "devapi")),
			)
			if err := seedBookings(ctx, api, seed); err != nil {
				return err
			}

			httpServer := &http.Server{
				Addr:              listenAddr,
				Handler:           api,
				ReadHeaderTimeout: 5 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.WithField("addr", listenAddr).Info("devapi started")
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case sig := <-sigCh:
				logger.WithField("signal", sig.String()).Info("shutdown signal received")
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := httpServer.Shutdown(ctx); err != nil {
					return fmt.Errorf("shutdown devapi: %w", err)
				}
				return nil
			case err := <-errCh:
				return fmt.Errorf("devapi server error: %w", err)
			}
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", ":8080", "Listen address")
	cmd.Flags().StringVar(&dsn, "db", ":memory:", "SQLite DSN")
	cmd.Flags().StringVar(&token, "token", "", "Require this bearer token on every request")
	cmd.Flags().DurationVar(&latency, "latency", 0, "Artificial delay added to every request")
	cmd.Flags().IntVar(&seed, "seed-bookings", 42, "Number of bookings to create on start")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")
	return cmd
}

func seedBookings(ctx context.Context, api *devapi.API, n int) error {
	start := time.Now().Truncate(24 * time.Hour)
	for i := 1; i <= n; i++ {
		err := api.Seed(ctx, fleet.ResourceBookings, map[string]any{
			"id":         fmt.Sprintf("b-%03d", i),
			"customerId": fmt.Sprintf("c-%03d", i%17+1),
			"vehicleId":  fmt.Sprintf("v-%03d", i%9+1),
			"status":     fleet.BookingConfirmed,
			"startsAt":   start.Add(time.Duration(i) * 24 * time.Hour),
			"endsAt":     start.Add(time.Duration(i+3) * 24 * time.Hour),
			"total":      float64(120 + i*15),
		})
		if err != nil {
			return fmt.Errorf("seed bookings: %w", err)
		}
	}
	return nil
}
