package main

import (
	"github.com/spf13/cobra"

	"github.com/apployd/engine/internal/config"
	"github.com/apployd/engine/internal/log"
	"github.com/apployd/engine/pkg/storage"
)

var migrateDown bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or roll back database migrations",
	RunE:  runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateDown, "down", false, "roll back one migration step instead of applying pending ones")
}

func runMigrate(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := log.WithComponent("cmd.migrate")

	if migrateDown {
		logger.Info().Msg("rolling back one migration step")
		return storage.MigrateDown(cfg.DatabaseURL)
	}

	logger.Info().Msg("applying pending migrations")
	return storage.Migrate(cfg.DatabaseURL)
}
