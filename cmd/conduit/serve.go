package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/aretw0/conduit"
	"github.com/aretw0/conduit/internal/cli"
	httpadapter "github.com/aretw0/conduit/pkg/adapters/http"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long:  `Exposes the run control surface as a JSON API with server-sent run events and Prometheus metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp(app)

		port := app.Config.HTTP.Port
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}

		opts := []httpadapter.Option{
			httpadapter.WithStreams(app.Streams),
			httpadapter.WithVersion(conduit.Version),
			httpadapter.WithLogger(app.Logger),
		}
		if app.Config.Metrics.Enabled {
			opts = append(opts,
				httpadapter.WithMetrics(app.Registry),
				httpadapter.WithMetricsPath(app.Config.Metrics.Path),
			)
		}
		handler, err := httpadapter.NewHandler(app.Engine, opts...)
		if err != nil {
			return err
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()

		// Channel to listen for errors coming from the listener.
		serverErrors := make(chan error, 1)
		go func() {
			app.Logger.Info("Starting Conduit Server", "address", srv.Addr)
			serverErrors <- srv.ListenAndServe()
		}()

		select {
		case err := <-serverErrors:
			return err
		case <-ctx.Done():
			app.Logger.Info("Start shutdown", "signal", ctx.Signal())

			// Give outstanding requests a deadline for completion.
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				app.Logger.Warn("Graceful shutdown did not complete", "err", err)
				return srv.Close()
			}
			app.Logger.Info("Conduit Server stopped gracefully")
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on (default from config)")
}
