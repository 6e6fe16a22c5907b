package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"

	"github.com/sakif/hive/internal/repository/sqlite"
)

// migrateConfig is the subset of settings migrate needs, so it runs without
// any secrets in the environment.
type migrateConfig struct {
	DBPath string `envconfig:"DB_PATH" default:"data/hive.db"`
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

		if err := godotenv.Load(); err != nil {
			logger.Debug("no .env file found")
		}

		var cfg migrateConfig
		if err := envconfig.Process("", &cfg); err != nil {
			return fmt.Errorf("loading environment: %w", err)
		}
		if err := ensureDBDir(cfg.DBPath); err != nil {
			return err
		}

		logger.Info("running migrations", slog.String("database", cfg.DBPath))
		db, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return err
		}
		if err := db.Close(); err != nil {
			return err
		}
		logger.Info("migrations completed")
		return nil
	},
}
