package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/gatekeeper/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Store != "sqlite" {
			return errNeedsSQLite
		}
		ctx := context.Background()

		conn, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env, SkipMigrate: true})
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer conn.Close()

		applied, err := db.Migrate(ctx, conn)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s) to %s\n", applied, cfg.DBPath)
		return nil
	},
}
