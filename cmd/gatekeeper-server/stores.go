package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/BrandonDHaskell/gatekeeper/internal/config"
	"github.com/BrandonDHaskell/gatekeeper/internal/db"
	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/store"
	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/store/memory"
	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/store/sqlite"
)

// stores bundles the three persistence ports for one backend.
type stores struct {
	sessions   store.SessionStore
	ledger     store.LedgerStore
	challenges store.ChallengeStore
	close      func()
}

func openStores(ctx context.Context, cfg config.Config) (*stores, error) {
	if cfg.Store == "memory" {
		logger.Printf("store: memory (state is lost on exit)")
		return &stores{
			sessions:   memory.NewSessionStore(),
			ledger:     memory.NewLedgerStore(),
			challenges: memory.NewChallengeStore(),
			close:      func() {},
		}, nil
	}

	conn, writer, err := openSQLite(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Env == "dev" {
		if err := db.SeedDev(ctx, conn, db.SeedDevOptions{}); err != nil {
			writer.Close()
			_ = conn.Close()
			return nil, fmt.Errorf("seed dev data: %w", err)
		}
	}
	logger.Printf("store: sqlite at %s", cfg.DBPath)
	return &stores{
		sessions:   sqlite.NewSessionStore(conn, writer),
		ledger:     sqlite.NewLedgerStore(conn, writer),
		challenges: sqlite.NewChallengeStore(conn, writer),
		close: func() {
			writer.Close()
			_ = conn.Close()
		},
	}, nil
}

func openSQLite(ctx context.Context, cfg config.Config) (*sql.DB, *db.Worker, error) {
	conn, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env})
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	return conn, db.NewWorker(conn), nil
}

var errNeedsSQLite = errors.New("this command needs GATEKEEPER_STORE=sqlite")
