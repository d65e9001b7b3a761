/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/friendsincode/holdkeeper/internal/config"
	"github.com/friendsincode/holdkeeper/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the hold and alarm tables",
	Long: `Apply the schema for the database storage backend.

The server migrates on startup as well; this command lets deploy pipelines
run the migration ahead of a rollout.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if cfg.StorageBackend != config.StorageDatabase {
		return fmt.Errorf("migrate requires HOLDKEEPER_STORAGE_BACKEND=database (got %q)", cfg.StorageBackend)
	}

	database, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer func() { _ = db.Close(database) }()

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	logger.Info().Str("backend", string(cfg.DBBackend)).Msg("migration complete")
	return nil
}
