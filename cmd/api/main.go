package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/safar/foodmanager/internal/config"
	"github.com/safar/foodmanager/internal/database"
	"github.com/safar/foodmanager/internal/store"
	"github.com/safar/foodmanager/internal/store/memory"
	"github.com/safar/foodmanager/internal/store/postgres"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCommand builds the foodmanager CLI. Running it without a
// subcommand serves the API.
func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "foodmanager",
		Short:        "Inventory and purchasing service",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newSeedCommand())

	return cmd
}

// bootstrap loads configuration and the process logger.
func bootstrap() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	logger := config.NewLogger(cfg.Log)
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}
	return cfg, logger, nil
}

// openBackend returns the configured store and a func releasing everything
// it opened.
func openBackend(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (store.Backend, func(), error) {
	if cfg.Store.Driver != config.DriverPostgres {
		logger.Info("using in-memory store")
		s := memory.New()
		return s, func() { s.Close() }, nil
	}

	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info("connected to database")

	s := postgres.New(db, postgres.Options{
		DSN:          cfg.Database.URL,
		MinReconnect: cfg.Database.ListenMinReconnect,
		MaxReconnect: cfg.Database.ListenMaxReconnect,
		Logger:       logger,
	})
	return s, func() {
		s.Close()
		db.Close()
	}, nil
}
