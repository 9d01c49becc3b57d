package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/safar/foodmanager/internal/database"
	"github.com/safar/foodmanager/internal/inventory"
	"github.com/safar/foodmanager/migrations"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or revert the postgres schema",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{migrations.Up, migrations.Down},
		RunE: func(cmd *cobra.Command, args []string) error {
			direction := args[0]
			if direction != migrations.Up && direction != migrations.Down {
				return fmt.Errorf("direction must be %q or %q", migrations.Up, migrations.Down)
			}

			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}

			db, err := database.NewConnection(cmd.Context(), &cfg.Database)
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			defer db.Close()

			n, err := migrations.Run(cmd.Context(), db, direction, func(name string) {
				logger.WithField("file", name).Info("running migration")
			})
			if err != nil {
				return err
			}

			logger.WithFields(logrus.Fields{"direction": direction, "files": n}).Info("migrations completed")
			return nil
		},
	}
}

func newSeedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load the sample catalog into an empty inventory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}

			backend, closeBackend, err := openBackend(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer closeBackend()

			seeded, err := inventory.NewService(backend, cfg.Seed.File, logger).SeedSample(cmd.Context())
			if err != nil {
				return err
			}
			if !seeded {
				logger.Info("inventory not empty, nothing seeded")
			}
			return nil
		},
	}
}
