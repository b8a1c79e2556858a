package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type SeedDevOptions struct {
	// EventID is the demo event that receives the starter roster.
	EventID string
}

// SeedDev inserts a small demo roster so a fresh dev database can be
// exercised without importing a roster file.  Existing rows are kept.
func SeedDev(ctx context.Context, db *sql.DB, opt SeedDevOptions) error {
	eventID := opt.EventID
	if eventID == "" {
		eventID = "evt-demo"
	}
	now := time.Now().UTC().UnixMilli()

	rows := []struct {
		partyID, name, email, phone string
		allowed                     int
	}{
		{"party-001", "Ada Lovelace", "ada@example.com", "", 2},
		{"party-002", "Grace Hopper", "grace@example.com", "+15550100", 4},
		{"party-003", "Alan Turing", "", "+15550101", 1},
	}

	for _, r := range rows {
		if _, err := db.ExecContext(ctx, `
INSERT OR IGNORE INTO parties(
  event_id, party_id, display_name, email, phone,
  allowed_headcount, created_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?);
`, eventID, r.partyID, r.name, r.email, r.phone, r.allowed, now); err != nil {
			return fmt.Errorf("seed party %s: %w", r.partyID, err)
		}
	}

	return nil
}
