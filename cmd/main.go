package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Minimalist03/fediversaopuzzle/internal/app"
	"github.com/Minimalist03/fediversaopuzzle/internal/config"
	"github.com/Minimalist03/fediversaopuzzle/internal/database"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "puzzle-access",
		Short:        "Payment webhooks that grant access to the Bible puzzle game",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.Load()
		},
	}
	root.AddCommand(newServeCmd(), newMigrateCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := buildLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			logger.Info("Starting puzzle access service")

			service := app.New(logger)
			if err := service.Start(context.Background()); err != nil {
				logger.Error("Failed to start service", zap.Error(err))
				return err
			}

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			if err := service.Stop(context.Background()); err != nil {
				logger.Error("Error during shutdown", zap.Error(err))
				return err
			}
			logger.Info("Server exited")
			return nil
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := buildLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			cfg, err := app.NewConfig(logger)
			if err != nil {
				return err
			}

			db, err := database.Open(cfg.Database, logger)
			if err != nil {
				return err
			}
			if err := database.Migrate(db); err != nil {
				return err
			}

			if cfg.Database.Driver == database.DriverSQLite {
				logger.Info("Schema migrated", zap.String("driver", cfg.Database.Driver))
				return nil
			}

			applied, err := database.GetMigrationStatus(db)
			if err != nil {
				return err
			}
			for _, m := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", m.Version, m.AppliedAt)
			}
			return nil
		},
	}
}

func buildLogger() (*zap.Logger, error) {
	cfg, err := config.Get()
	if err != nil {
		return nil, err
	}
	logger, err := app.NewLogger(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}
