package db

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
)

func openTemp(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "nested", "gk.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestOpen_MigratesAndIsIdempotent(t *testing.T) {
	conn := openTemp(t)
	ctx := context.Background()

	for _, table := range []string{"event_sessions", "session_transitions", "parties", "admission_transactions", "otp_challenges"} {
		var name string
		err := conn.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?;`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}

	applied, err := Migrate(ctx, conn)
	if err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	if applied != 0 {
		t.Errorf("second Migrate applied %d, want 0", applied)
	}
}

func TestOpen_SkipMigrate(t *testing.T) {
	ctx := context.Background()
	conn, err := Open(ctx, Config{Path: filepath.Join(t.TempDir(), "gk.db"), SkipMigrate: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer conn.Close()

	applied, err := Migrate(ctx, conn)
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if applied < 1 {
		t.Errorf("applied = %d, want at least 1", applied)
	}
}

func TestParseVersion(t *testing.T) {
	if v, err := parseVersion("0001_init.sql"); err != nil || v != 1 {
		t.Errorf("parseVersion = %d, %v", v, err)
	}
	if _, err := parseVersion("init.sql"); err == nil {
		t.Error("expected error for unversioned file")
	}
}

func TestSeedDev_IsRepeatable(t *testing.T) {
	conn := openTemp(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := SeedDev(ctx, conn, SeedDevOptions{}); err != nil {
			t.Fatalf("SeedDev #%d: %v", i+1, err)
		}
	}
	var n int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM parties WHERE event_id = 'evt-demo';`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("seeded parties = %d, want 3", n)
	}
}

func TestWorker_CommitsRollsBackAndCloses(t *testing.T) {
	conn := openTemp(t)
	ctx := context.Background()
	w := NewWorker(conn)

	err := w.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO event_sessions(event_id, status, updated_at_ms) VALUES ('evt-1', 'not_started', 1);`)
		return err
	})
	if err != nil {
		t.Fatalf("commit job: %v", err)
	}

	boom := errors.New("boom")
	err = w.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO event_sessions(event_id, status, updated_at_ms) VALUES ('evt-2', 'not_started', 1);`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("rollback job: err = %v, want boom", err)
	}

	var n int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_sessions;`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("sessions = %d, want 1 (second insert rolled back)", n)
	}

	w.Close()
	w.Close()
	if err := w.Do(ctx, func(context.Context, *sql.Tx) error { return nil }); !errors.Is(err, ErrWorkerClosed) {
		t.Errorf("Do after Close: err = %v, want ErrWorkerClosed", err)
	}
}
