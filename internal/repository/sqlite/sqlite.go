// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// modernc.org/sqlite is a pure Go driver, so the binary builds without cgo.
// Use ":memory:" as the path for throwaway databases in tests.
package sqlite

import (
	"database/sql"
	"fmt"

	// registers the "sqlite" driver with database/sql
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool and implements every repository interface.
type DB struct {
	conn *sql.DB
}

// New opens the database at dbPath, applies pragmas and runs migrations.
//
// dbPath examples:
//   - "data/hive.db"  → file-based database (persistent)
//   - ":memory:"      → in-memory database, one per DB value
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Every pooled connection to ":memory:" would see its own empty database.
	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrations are applied in order; each statement is idempotent.
var migrations = []struct {
	name string
	sql  string
}{
	{"users", `
		CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			github_id  INTEGER NOT NULL UNIQUE,
			login      TEXT NOT NULL,
			email      TEXT NOT NULL DEFAULT '',
			avatar_url TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`},
	{"sessions", `
		CREATE TABLE IF NOT EXISTS sessions (
			id           TEXT PRIMARY KEY,
			user_id      TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			github_state TEXT,
			expires_at   DATETIME NOT NULL,
			created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);
	`},
	{"source_control_orgs", `
		CREATE TABLE IF NOT EXISTS source_control_orgs (
			id                     TEXT PRIMARY KEY,
			github_login           TEXT NOT NULL UNIQUE,
			github_installation_id INTEGER NOT NULL,
			type                   TEXT NOT NULL CHECK (type IN ('USER', 'ORG')),
			name                   TEXT NOT NULL DEFAULT '',
			avatar_url             TEXT NOT NULL DEFAULT '',
			description            TEXT,
			created_at             DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at             DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`},
	{"workspaces", `
		CREATE TABLE IF NOT EXISTS workspaces (
			id                    TEXT PRIMARY KEY,
			name                  TEXT NOT NULL,
			slug                  TEXT NOT NULL UNIQUE,
			description           TEXT NOT NULL DEFAULT '',
			owner_id              TEXT NOT NULL REFERENCES users(id),
			repository_url        TEXT NOT NULL DEFAULT '',
			source_control_org_id TEXT REFERENCES source_control_orgs(id) ON DELETE SET NULL,
			created_at            DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at            DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_workspaces_owner_id ON workspaces(owner_id);
	`},
	{"source_control_tokens", `
		CREATE TABLE IF NOT EXISTS source_control_tokens (
			id                    TEXT PRIMARY KEY,
			user_id               TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			source_control_org_id TEXT NOT NULL REFERENCES source_control_orgs(id) ON DELETE CASCADE,
			token                 TEXT NOT NULL,
			refresh_token         TEXT,
			expires_at            DATETIME,
			created_at            DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at            DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (user_id, source_control_org_id)
		);
	`},
	{"swarms", `
		CREATE TABLE IF NOT EXISTS swarms (
			id                    TEXT PRIMARY KEY,
			workspace_id          TEXT NOT NULL UNIQUE REFERENCES workspaces(id) ON DELETE CASCADE,
			name                  TEXT NOT NULL,
			repository_url        TEXT NOT NULL DEFAULT '',
			default_branch        TEXT NOT NULL DEFAULT 'main',
			pool_api_key          TEXT,
			pool_name             TEXT,
			pool_state            TEXT NOT NULL DEFAULT 'NOT_STARTED',
			container_files       TEXT NOT NULL DEFAULT '{}',
			environment_variables TEXT NOT NULL DEFAULT '[]',
			created_at            DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at            DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`},
}

func (db *DB) migrate() error {
	for _, m := range migrations {
		if _, err := db.conn.Exec(m.sql); err != nil {
			return fmt.Errorf("creating %s table: %w", m.name, err)
		}
	}
	return nil
}
