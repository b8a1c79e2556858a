package sqlite_test

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/BrandonDHaskell/gatekeeper/internal/db"
	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/store/sqlite"
)

// openTestDB returns an in-memory SQLite database migrated to the current
// schema.  It is closed when the test finishes.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	// Each test gets its own in-memory database; the shared cache keeps it
	// alive for as long as the pool holds a connection.
	dsn := fmt.Sprintf(
		"file:test_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
		strings.ReplaceAll(t.Name(), "/", "_"),
	)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("openTestDB: sql.Open: %v", err)
	}

	// Match production: single connection for SQLite safety.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if err := conn.Ping(); err != nil {
		conn.Close()
		t.Fatalf("openTestDB: ping: %v", err)
	}

	// Apply the same migrations as production.
	if _, err := db.Migrate(context.Background(), conn); err != nil {
		conn.Close()
		t.Fatalf("openTestDB: migrate: %v", err)
	}

	t.Cleanup(func() { conn.Close() })
	return conn
}

// newTestWriter returns a db.Worker for conn, closed at test end.
func newTestWriter(t *testing.T, conn *sql.DB) *db.Worker {
	t.Helper()

	w := db.NewWorker(conn)
	t.Cleanup(func() { w.Close() })
	return w
}

// newStores opens a fresh database and returns the three stores over it.
func newStores(t *testing.T) (*sqlite.SessionStore, *sqlite.LedgerStore, *sqlite.ChallengeStore) {
	t.Helper()
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	return sqlite.NewSessionStore(conn, w), sqlite.NewLedgerStore(conn, w), sqlite.NewChallengeStore(conn, w)
}

func sqliteSessions(conn *sql.DB, w *db.Worker) *sqlite.SessionStore {
	return sqlite.NewSessionStore(conn, w)
}
