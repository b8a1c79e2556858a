package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/service"
	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/store/sqlite"
	"github.com/BrandonDHaskell/gatekeeper/internal/roster"
)

var rosterEventID string

var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "Manage event rosters",
}

var rosterImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Attach the parties in a YAML roster to an event",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Store != "sqlite" {
			return errNeedsSQLite
		}
		r, err := roster.LoadFile(args[0])
		if err != nil {
			return err
		}
		eventID := r.EventID
		if rosterEventID != "" {
			eventID = rosterEventID
		}

		ctx := context.Background()
		conn, writer, err := openSQLite(ctx, cfg)
		if err != nil {
			return err
		}
		defer conn.Close()
		defer writer.Close()

		ledger := service.NewLedger(sqlite.NewLedgerStore(conn, writer))
		if err := ledger.Attach(ctx, eventID, r.Records()); err != nil {
			return fmt.Errorf("attach roster: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "attached %d part(ies) to %s\n", len(r.Parties), eventID)
		return nil
	},
}

func init() {
	rosterImportCmd.Flags().StringVar(&rosterEventID, "event", "", "override the roster's event_id")
	rosterCmd.AddCommand(rosterImportCmd)
}
