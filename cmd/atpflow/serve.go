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

	"github.com/MikeSquared-Agency/ATPFlow/internal/api"
	"github.com/MikeSquared-Agency/ATPFlow/internal/hermes"
)

func newServeCommand(c *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API and metrics servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.ensureConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Logging, os.Stdout)

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			// Database
			db, err := openStore(ctx, cfg, true)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()
			logger.Info("connected to database", "driver", cfg.Database.Driver)

			// Hermes (optional)
			hub := api.NewStreamHub(logger)
			publishers := hermes.Multi{hub}
			if cfg.Hermes.URL != "" {
				hc, err := hermes.NewNATSClient(ctx, cfg.Hermes.URL, logger)
				if err != nil {
					logger.Warn("failed to connect to hermes, running without events", "error", err)
				} else {
					publishers = append(publishers, hc)
					logger.Info("connected to hermes")
				}
			}
			defer publishers.Close()
			go hub.Run(ctx)

			engine, err := newEngine(cfg, db, publishers, logger)
			if err != nil {
				return err
			}
			verifier, err := newVerifier(cfg)
			if err != nil {
				return err
			}

			apiServer := &http.Server{
				Addr: fmt.Sprintf(":%d", cfg.Server.Port),
				Handler: api.NewRouter(api.Deps{
					Engine:             engine,
					Verifier:           verifier,
					Blobs:              newBlobClient(cfg),
					Hub:                hub,
					Logger:             logger,
					RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
					IdempotencyTTL:     cfg.IdempotencyTTL(),
					MaxUploadBytes:     cfg.MaxUploadBytes(),
				}),
			}
			metricsServer := &http.Server{
				Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
				Handler: api.NewMetricsRouter(db),
			}

			go func() {
				logger.Info("API server starting", "port", cfg.Server.Port)
				if err := apiServer.ListenAndServe(); err != http.ErrServerClosed {
					logger.Error("API server error", "error", err)
					cancel()
				}
			}()
			go func() {
				logger.Info("metrics server starting", "port", cfg.Server.MetricsPort)
				if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
					logger.Error("metrics server error", "error", err)
				}
			}()

			<-ctx.Done()
			logger.Info("shutting down...")

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			_ = apiServer.Shutdown(shutdownCtx)
			_ = metricsServer.Shutdown(shutdownCtx)

			logger.Info("shutdown complete")
			return nil
		},
	}
}

func newMigrateCommand(c *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.ensureConfig()
			if err != nil {
				return err
			}
			db, err := openStore(cmd.Context(), cfg, true)
			if err != nil {
				return err
			}
			defer db.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", cfg.Database.Driver)
			return nil
		},
	}
}
