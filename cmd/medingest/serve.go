package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/turtacn/MedRecord-Ingest/internal/bootstrap"
	"github.com/turtacn/MedRecord-Ingest/internal/config"
	"github.com/turtacn/MedRecord-Ingest/internal/infrastructure/monitoring/logging"
)

// newServeCmd runs the full API server, identical to cmd/apiserver.
func newServeCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ingest API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				cfg, err = config.LoadFromEnv()
				if err != nil {
					return err
				}
			}
			logger, err := logging.NewLogger(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			bootstrap.Version = version
			app, err := bootstrap.BuildApp(ctx, cfg, logger, migrate)
			if err != nil {
				return err
			}
			defer app.Close()

			errCh := make(chan error, 1)
			go func() { errCh <- app.Server.Start() }()

			select {
			case <-ctx.Done():
				logger.Info("shutdown signal received")
			case err := <-errCh:
				if err != nil {
					return err
				}
			}
			if err := app.Server.Stop(context.Background()); err != nil {
				logger.Error("http server shutdown failed", logging.Err(err))
			}
			app.Orchestrator.Wait()
			return nil
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "run database migrations on startup")
	return cmd
}
